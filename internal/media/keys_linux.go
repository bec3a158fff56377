package media

import "github.com/micmonay/keybd_event"

var keyCodes = map[string]int{
	"play/pause media": keybd_event.VK_PLAYPAUSE,
	"next track":       keybd_event.VK_NEXTSONG,
	"previous track":   keybd_event.VK_PREVIOUSSONG,
}
