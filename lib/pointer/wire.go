package pointer

import (
	"fmt"
	"strings"
)

// The pointer socket speaks newline separated key:value pairs; a blank line
// ends each command.

func MoveCommand(d Delta) string {
	return fmt.Sprintf("type:move\ndx:%d\ndy:%d\n\n", d.DX, d.DY)
}

func ScrollCommand(d Delta) string {
	return fmt.Sprintf("type:scroll\ndx:%d\ndy:%d\n\n", d.DX, d.DY)
}

func ClickCommand() string {
	return "type:click\n\n"
}

func ButtonCommand(name string) string {
	return "type:button\nname:" + name + "\n\n"
}

// TextCommand escapes newlines so the text cannot terminate the command early.
func TextCommand(text string) string {
	return "type:text\ntext:" + strings.ReplaceAll(text, "\n", `\n`) + "\n\n"
}
