package history

import (
	"github.com/rs/zerolog"

	"github.com/sprite-ai/spritegate/internal/event"
	"github.com/sprite-ai/spritegate/internal/logging"
)

// Recorder subscribes to the message lifecycle and persists resolved
// exchanges. Queued and cancelled messages are deliberately not recorded;
// only work that produced a response (or a failure) becomes history.
type Recorder struct {
	store  *Store
	namer  func(userKey string) string
	unsubs []func()
	log    zerolog.Logger
}

// NewRecorder starts recording completed and failed messages into store.
// namer derives the sprite name persisted on first sight of a user.
func NewRecorder(store *Store, namer func(userKey string) string) *Recorder {
	if namer == nil {
		namer = func(key string) string { return key }
	}
	r := &Recorder{
		store: store,
		namer: namer,
		log:   logging.Component("history"),
	}
	r.unsubs = append(r.unsubs,
		event.Subscribe(event.MessageCompleted, r.onCompleted),
		event.Subscribe(event.MessageFailed, r.onFailed),
	)
	return r
}

// Close stops recording.
func (r *Recorder) Close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *Recorder) onCompleted(ev event.Event) {
	data, ok := ev.Data.(event.MessageResultData)
	if !ok {
		return
	}
	r.record(data.UserKey, data.Content, data.Response, data)
}

func (r *Recorder) onFailed(ev event.Event) {
	data, ok := ev.Data.(event.MessageResultData)
	if !ok {
		return
	}
	r.record(data.UserKey, data.Content, "Error: "+data.Err, data)
}

func (r *Recorder) record(userKey, userContent, assistantContent string, data event.MessageResultData) {
	if err := r.store.EnsureUser(userKey, r.namer(userKey)); err != nil {
		r.log.Error().Err(err).Str("user", userKey).Msg("failed to upsert user")
		return
	}
	convID, err := r.store.ActiveConversation(userKey)
	if err != nil {
		r.log.Error().Err(err).Str("user", userKey).Msg("failed to resolve conversation")
		return
	}
	if err := r.store.AddMessage(convID, "user", userContent, nil); err != nil {
		r.log.Error().Err(err).Str("user", userKey).Msg("failed to record user message")
		return
	}
	if err := r.store.AddMessage(convID, "assistant", assistantContent, data.ToolEvents); err != nil {
		r.log.Error().Err(err).Str("user", userKey).Msg("failed to record assistant message")
	}
}
