package taskrunner

import "aiforge/internal/llm"

// entryTag marks why a conversation turn was added, so a new round can drop
// the turns that exist only to carry forward a prior round's error context,
// mirroring task_manager.py's round-reset filter over is_error_feedback
// messages.
type entryTag string

const (
	tagNormal        entryTag = "normal"
	tagErrorFeedback entryTag = "error_feedback"
)

type entry struct {
	message llm.Message
	tag     entryTag
}

// conversation is the rolling history a Controller builds up across
// optimization attempts within and across rounds. Grounded on
// task_manager.py's AIForgeTask conversation handling plus the teacher
// client's conversation_manager, adapted to this engine's stateless
// llm.Client.Generate(ctx, system, user, history) shape.
const maxWindow = 8

type conversation struct {
	entries []entry
}

func newConversation() *conversation {
	return &conversation{}
}

func (c *conversation) addUser(content string, tag entryTag) {
	c.push(entry{message: llm.Message{Role: llm.RoleUser, Content: content}, tag: tag})
}

func (c *conversation) addAssistant(content string) {
	c.push(entry{message: llm.Message{Role: llm.RoleAssistant, Content: content}, tag: tagNormal})
}

func (c *conversation) push(e entry) {
	c.entries = append(c.entries, e)
	if len(c.entries) > maxWindow {
		c.entries = c.entries[len(c.entries)-maxWindow:]
	}
}

// resetRound drops every error-feedback-tagged turn from the prior round,
// mirroring task_manager.py's "self.conversation_manager.error_patterns = []"
// plus its filter over is_error_feedback history entries at round start.
func (c *conversation) resetRound() {
	kept := c.entries[:0:0]
	for _, e := range c.entries {
		if e.tag != tagErrorFeedback {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}

// reset clears the conversation entirely, mirroring client.reset_conversation()
// called when a round is exhausted without success.
func (c *conversation) reset() {
	c.entries = nil
}

// history returns the accumulated turns as a plain message slice for
// llm.Client.Generate.
func (c *conversation) history() []llm.Message {
	out := make([]llm.Message, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.message
	}
	return out
}
