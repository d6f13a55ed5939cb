package guidance

import (
	"fmt"
	"sort"
)

// Key names a user-facing message.
type Key string

const (
	KeyEscalatorUp         Key = "escalator_up"
	KeyEscalatorDown       Key = "escalator_down"
	KeyEscalatorStationary Key = "escalator_stationary"
	KeyEscalatorNotFound   Key = "escalator_not_found"
	KeyCameraUnavailable   Key = "camera_unavailable"
	KeyObstacleAhead       Key = "obstacle_ahead"
	KeyGoForward           Key = "go_forward"
	KeyGoRight             Key = "go_right"
	KeyGoLeft              Key = "go_left"
	KeyGoBack              Key = "go_back"
	KeyUnknownCommand      Key = "unknown_command"
	keyModeSuffix          Key = "mode_suffix"
)

// DefaultLocale is the locale of the shipped device.
const DefaultLocale = "zh-TW"

var catalogs = map[string]map[Key]string{
	"zh-TW": {
		KeyEscalatorUp:         "電梯向上",
		KeyEscalatorDown:       "電梯向下",
		KeyEscalatorStationary: "電梯靜止",
		KeyEscalatorNotFound:   "找不到電梯",
		KeyCameraUnavailable:   "無法取得影像",
		KeyObstacleAhead:       "前方不便前行",
		KeyGoForward:           "向前走",
		KeyGoRight:             "向右走",
		KeyGoLeft:              "向左走",
		KeyGoBack:              "向後走",
		KeyUnknownCommand:      "unknown command",
		keyModeSuffix:          "模式",
	},
	"en": {
		KeyEscalatorUp:         "escalator going up",
		KeyEscalatorDown:       "escalator going down",
		KeyEscalatorStationary: "escalator stopped",
		KeyEscalatorNotFound:   "escalator not found",
		KeyCameraUnavailable:   "camera unavailable",
		KeyObstacleAhead:       "obstacle ahead",
		KeyGoForward:           "go forward",
		KeyGoRight:             "go right",
		KeyGoLeft:              "go left",
		KeyGoBack:              "go back",
		KeyUnknownCommand:      "unknown command",
		keyModeSuffix:          " mode",
	},
}

// Locales lists the supported locales in sorted order.
func Locales() []string {
	out := make([]string, 0, len(catalogs))
	for l := range catalogs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Catalog resolves message keys for one locale.
type Catalog struct {
	locale   string
	messages map[Key]string
}

// NewCatalog returns the catalog for locale. An empty locale selects
// DefaultLocale.
func NewCatalog(locale string) (*Catalog, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	m, ok := catalogs[locale]
	if !ok {
		return nil, fmt.Errorf("unsupported locale %q (supported: %v)", locale, Locales())
	}
	return &Catalog{locale: locale, messages: m}, nil
}

// Locale returns the catalog's locale.
func (c *Catalog) Locale() string { return c.locale }

// Text returns the message for k, or the key itself when missing.
func (c *Catalog) Text(k Key) string {
	if s, ok := c.messages[k]; ok {
		return s
	}
	return string(k)
}

// SwitchAck builds the acknowledgement for an accepted mode command.
func (c *Catalog) SwitchAck(mode string) Reply {
	return Reply{Action: ActionSwitchMode, Message: mode + c.Text(keyModeSuffix)}
}

// UnknownCommand builds the reply for an unrecognised mode.
func (c *Catalog) UnknownCommand() Reply {
	return Reply{Action: ActionSwitchMode, Message: c.Text(KeyUnknownCommand)}
}

// Obstacle builds an obstacle guidance reply.
func (c *Catalog) Obstacle(k Key) Reply {
	return Reply{Action: ActionObstacle, Message: c.Text(k)}
}

// Elevator builds an escalator guidance reply.
func (c *Catalog) Elevator(k Key) Reply {
	return Reply{Action: ActionElevator, Message: c.Text(k)}
}
