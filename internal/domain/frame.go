package domain

import "fmt"

// FrameContext is the mode the host declares the embedded app is running in.
// It is fixed by the initialization handshake and gates which calls are permitted.
type FrameContext string

const (
	FrameContextContent        FrameContext = "content"
	FrameContextSettings       FrameContext = "settings"
	FrameContextAuthentication FrameContext = "authentication"
	FrameContextRemove         FrameContext = "remove"
	FrameContextTask           FrameContext = "task"
	FrameContextSidePanel      FrameContext = "sidePanel"
	FrameContextStage          FrameContext = "stage"
	FrameContextMeetingStage   FrameContext = "meetingStage"
)

// AllFrameContexts lists every context a host may declare.
var AllFrameContexts = []FrameContext{
	FrameContextContent,
	FrameContextSettings,
	FrameContextAuthentication,
	FrameContextRemove,
	FrameContextTask,
	FrameContextSidePanel,
	FrameContextStage,
	FrameContextMeetingStage,
}

// Valid reports whether c is one of the known frame contexts.
func (c FrameContext) Valid() bool {
	for _, known := range AllFrameContexts {
		if c == known {
			return true
		}
	}
	return false
}

// ParseFrameContext converts a string into a FrameContext.
func ParseFrameContext(s string) (FrameContext, error) {
	c := FrameContext(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownContext, s)
	}
	return c, nil
}

// HostInfo is what the host reports about itself during the handshake.
type HostInfo struct {
	FrameContext FrameContext `json:"frameContext"`
	HostName     string       `json:"hostName,omitempty"`
	ClientType   string       `json:"clientType,omitempty"`
}
