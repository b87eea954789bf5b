package ec

import "fmt"

// Cmd is an EC command opcode. Values are fixed by the firmware.
type Cmd uint8

const (
	CmdProbe       Cmd = 1
	CmdBoard       Cmd = 2
	CmdVersion     Cmd = 3
	CmdKeymapGet   Cmd = 9
	CmdKeymapSet   Cmd = 10
	CmdLedGetValue Cmd = 11
	CmdLedSetValue Cmd = 12
	CmdLedGetColor Cmd = 13
	CmdLedSetColor Cmd = 14
	CmdLedGetMode  Cmd = 15
	CmdLedSetMode  Cmd = 16
	CmdMatrixGet   Cmd = 17
	CmdLedSave     Cmd = 18
	CmdSetNoInput  Cmd = 19
)

var cmdNames = map[Cmd]string{
	CmdProbe:       "probe",
	CmdBoard:       "board",
	CmdVersion:     "version",
	CmdKeymapGet:   "keymap_get",
	CmdKeymapSet:   "keymap_set",
	CmdLedGetValue: "led_get_value",
	CmdLedSetValue: "led_set_value",
	CmdLedGetColor: "led_get_color",
	CmdLedSetColor: "led_set_color",
	CmdLedGetMode:  "led_get_mode",
	CmdLedSetMode:  "led_set_mode",
	CmdMatrixGet:   "matrix_get",
	CmdLedSave:     "led_save",
	CmdSetNoInput:  "set_no_input",
}

func (c Cmd) String() string {
	if name, ok := cmdNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cmd(%d)", uint8(c))
}
