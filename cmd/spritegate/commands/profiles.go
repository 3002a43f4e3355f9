package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/spritegate/internal/agent"
	"github.com/sprite-ai/spritegate/internal/config"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List available sprite profiles",
	RunE:  runProfiles,
}

func runProfiles(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir("")
	if err != nil {
		return err
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	def := agent.DefaultProfile()
	fmt.Printf("%s (built-in) - %s\n", def.Name, def.Description)

	if cfg.Agent.ProfileDir == "" {
		return nil
	}
	for _, name := range agent.ListProfiles(cfg.Agent.ProfileDir) {
		profile, err := agent.LoadProfile(cfg.Agent.ProfileDir, name)
		if err != nil {
			fmt.Printf("%s - (unreadable: %v)\n", name, err)
			continue
		}
		fmt.Printf("%s - %s\n", profile.Name, profile.Description)
	}
	return nil
}
