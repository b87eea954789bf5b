package protocol

import "github.com/google/uuid"

// BoardID identifies one physical controller for the lifetime of the process.
// It is never persisted.
type BoardID uuid.UUID

// NewBoardID returns a fresh random identifier.
func NewBoardID() BoardID {
	return BoardID(uuid.New())
}

func (b BoardID) String() string {
	return uuid.UUID(b).String()
}

func (b BoardID) MarshalText() ([]byte, error) {
	return uuid.UUID(b).MarshalText()
}

func (b *BoardID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(b).UnmarshalText(data)
}

// ParseBoardID parses the textual form produced by String.
func ParseBoardID(s string) (BoardID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return BoardID{}, err
	}
	return BoardID(id), nil
}
