package tool

import (
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ErrOutsideWorkspace is returned when a path escapes the workspace root.
var ErrOutsideWorkspace = fmt.Errorf("path is outside the workspace")

// resolvePath resolves a tool-supplied path against the workspace directory.
// Relative paths join onto workDir; any result outside workDir is rejected.
func resolvePath(workDir, path string) (string, error) {
	if path == "" || path == "." {
		return filepath.Clean(workDir), nil
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(workDir, resolved)
	}
	resolved = filepath.Clean(resolved)
	if !isWithinDir(resolved, workDir) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return resolved, nil
}

func isWithinDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// shellCommand is one parsed command with its arguments.
type shellCommand struct {
	Name string
	Args []string
}

// parseShellCommands parses a bash command line into its individual commands,
// descending into pipelines, lists, and substitutions.
func parseShellCommands(command string) ([]shellCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}

	var commands []shellCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractShellCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func extractShellCommand(call *syntax.CallExpr) *shellCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &shellCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}
	for _, arg := range call.Args[1:] {
		cmd.Args = append(cmd.Args, wordToString(arg))
	}
	return cmd
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			// Command substitution content is opaque; mark it dynamic.
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// pathMutatingCommands are commands whose path arguments must stay inside
// the workspace.
var pathMutatingCommands = map[string]bool{
	"cd":    true,
	"rm":    true,
	"cp":    true,
	"mv":    true,
	"mkdir": true,
	"touch": true,
	"chmod": true,
	"chown": true,
	"rmdir": true,
	"dd":    true,
}

// checkCommandPaths verifies that every path argument of a path-mutating
// command resolves inside workDir. An unparseable command line is rejected
// outright; a sprite has no way to ask for an exception.
func checkCommandPaths(command, workDir string) error {
	commands, err := parseShellCommands(command)
	if err != nil {
		return fmt.Errorf("command rejected (unparseable): %w", err)
	}

	for _, cmd := range commands {
		if !pathMutatingCommands[cmd.Name] {
			continue
		}
		for _, arg := range commandPathArgs(cmd) {
			if _, err := resolvePath(workDir, arg); err != nil {
				return fmt.Errorf("command %q references a path outside the workspace: %s", cmd.Name, arg)
			}
		}
	}
	return nil
}

func commandPathArgs(cmd shellCommand) []string {
	var paths []string
	for _, arg := range cmd.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		// chmod mode arguments are not paths.
		if cmd.Name == "chmod" && len(arg) > 0 {
			c := arg[0]
			if (c >= '0' && c <= '9') || c == 'u' || c == 'g' || c == 'o' || c == 'a' || c == '+' || c == '=' {
				continue
			}
		}
		paths = append(paths, arg)
	}
	return paths
}
