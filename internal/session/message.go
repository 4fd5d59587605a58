package session

import (
	"encoding/json"
	"fmt"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

// DecodeMessage unmarshals a message entry's raw payload. Callers should
// only call this for entries with Type == TypeMessage.
func (e Entry) DecodeMessage() (agentmsg.Message, error) {
	var m agentmsg.Message
	if len(e.Message) == 0 {
		return m, fmt.Errorf("session: entry %s has no message payload", e.ID)
	}
	if err := json.Unmarshal(e.Message, &m); err != nil {
		return m, fmt.Errorf("session: decode message entry %s: %w", e.ID, err)
	}
	return m, nil
}
