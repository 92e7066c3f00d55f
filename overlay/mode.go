package overlay

import "fmt"

// Mode 叠加方式
type Mode string

const (
	ModeBoxes         Mode = "boxes"
	ModeInstanceMasks Mode = "instance-masks"
	ModeFrameMask     Mode = "full-frame-mask"
)

// ParseMode 解析叠加方式，空字符串返回 def
func ParseMode(s string, def Mode) (Mode, error) {
	switch Mode(s) {
	case "":
		return def, nil
	case ModeBoxes, ModeInstanceMasks, ModeFrameMask:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown overlay mode %q", s)
}

func (m Mode) String() string {
	return string(m)
}
