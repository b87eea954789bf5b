package protocol

// Command is one request to a daemon. The set of implementations is closed;
// each carries a wire name and fully typed arguments.
type Command interface {
	Name() string
	isCommand()
}

type ListBoards struct{}

type GetModel struct {
	Board BoardID `json:"board"`
}

type GetVersion struct {
	Board BoardID `json:"board"`
}

type Refresh struct{}

type GetKeymap struct {
	Board  BoardID `json:"board"`
	Layer  uint8   `json:"layer"`
	Output uint8   `json:"output"`
	Input  uint8   `json:"input"`
}

type SetKeymap struct {
	Board  BoardID `json:"board"`
	Layer  uint8   `json:"layer"`
	Output uint8   `json:"output"`
	Input  uint8   `json:"input"`
	Value  uint16  `json:"value"`
}

type GetMatrix struct {
	Board BoardID `json:"board"`
}

type RunBenchmark struct {
	Board BoardID `json:"board"`
}

type RunNelson struct {
	Board BoardID    `json:"board"`
	Kind  NelsonKind `json:"kind"`
}

type GetColor struct {
	Board BoardID `json:"board"`
	Index uint8   `json:"index"`
}

type SetColor struct {
	Board BoardID `json:"board"`
	Index uint8   `json:"index"`
	Color Hs      `json:"color"`
}

type GetMaxBrightness struct {
	Board BoardID `json:"board"`
}

type GetBrightness struct {
	Board BoardID `json:"board"`
	Index uint8   `json:"index"`
}

type SetBrightness struct {
	Board      BoardID `json:"board"`
	Index      uint8   `json:"index"`
	Brightness int     `json:"brightness"`
}

type GetMode struct {
	Board BoardID `json:"board"`
	Layer uint8   `json:"layer"`
}

type SetMode struct {
	Board BoardID `json:"board"`
	Layer uint8   `json:"layer"`
	Mode  uint8   `json:"mode"`
	Speed uint8   `json:"speed"`
}

type LedSave struct {
	Board BoardID `json:"board"`
}

type SetNoInput struct {
	Board   BoardID `json:"board"`
	NoInput bool    `json:"no_input"`
}

type Exit struct{}

// ModeValue is an LED mode id with its animation speed.
type ModeValue struct {
	Mode  uint8 `json:"mode"`
	Speed uint8 `json:"speed"`
}

func (ListBoards) Name() string       { return "boards" }
func (GetModel) Name() string         { return "model" }
func (GetVersion) Name() string       { return "version" }
func (Refresh) Name() string          { return "refresh" }
func (GetKeymap) Name() string        { return "keymap_get" }
func (SetKeymap) Name() string        { return "keymap_set" }
func (GetMatrix) Name() string        { return "matrix_get" }
func (RunBenchmark) Name() string     { return "benchmark" }
func (RunNelson) Name() string        { return "nelson" }
func (GetColor) Name() string         { return "color" }
func (SetColor) Name() string         { return "set_color" }
func (GetMaxBrightness) Name() string { return "max_brightness" }
func (GetBrightness) Name() string    { return "brightness" }
func (SetBrightness) Name() string    { return "set_brightness" }
func (GetMode) Name() string          { return "mode" }
func (SetMode) Name() string          { return "set_mode" }
func (LedSave) Name() string          { return "led_save" }
func (SetNoInput) Name() string       { return "set_no_input" }
func (Exit) Name() string             { return "exit" }

func (ListBoards) isCommand()       {}
func (GetModel) isCommand()         {}
func (GetVersion) isCommand()       {}
func (Refresh) isCommand()          {}
func (GetKeymap) isCommand()        {}
func (SetKeymap) isCommand()        {}
func (GetMatrix) isCommand()        {}
func (RunBenchmark) isCommand()     {}
func (RunNelson) isCommand()        {}
func (GetColor) isCommand()         {}
func (SetColor) isCommand()         {}
func (GetMaxBrightness) isCommand() {}
func (GetBrightness) isCommand()    {}
func (SetBrightness) isCommand()    {}
func (GetMode) isCommand()          {}
func (SetMode) isCommand()          {}
func (LedSave) isCommand()          {}
func (SetNoInput) isCommand()       {}
func (Exit) isCommand()             {}
