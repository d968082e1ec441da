package message

import "fmt"

// Sender is the sending half of a socket.
type Sender interface {
	SendFrame(frame []byte, more bool) error
}

// SendParts encodes every part and transmits them as one multipart message.
// Encoding happens before the first frame goes out, so a bad part leaves
// nothing half-sent on the socket.
func SendParts(s Sender, parts ...Part) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidPartValue)
	}
	frames := make([][]byte, len(parts))
	for i, p := range parts {
		frame, err := EncodePart(p)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		frames[i] = frame
	}
	return SendFrames(s, frames...)
}

// SendFrames transmits already-encoded frames as one multipart message.
func SendFrames(s Sender, frames ...[]byte) error {
	for i, frame := range frames {
		if err := s.SendFrame(frame, i < len(frames)-1); err != nil {
			return err
		}
	}
	return nil
}
