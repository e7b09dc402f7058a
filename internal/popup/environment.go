package popup

import (
	"regexp"

	"github.com/mssola/useragent"
)

// Environment is the execution context a flow attempt runs in.
type Environment string

const (
	EnvDesktop Environment = "desktop"
	EnvMobile  Environment = "mobile"
	EnvInApp   Environment = "in_app"
	EnvIframe  Environment = "iframe"
)

var (
	inAppPattern   = regexp.MustCompile(`(?i)Facebook|IEMobile|Twitter|FBAN|Android SDK`)
	webviewPattern = regexp.MustCompile(`(?i); wv\)`)
	mobilePattern  = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)
)

// Inspector exposes the signals Classify needs.
type Inspector interface {
	UserAgent() string
	IsTopLevel() (bool, error)
}

// Classify derives the environment. Embedding wins over the user agent,
// then in-app/webview signatures, then mobile devices.
func Classify(in Inspector) Environment {
	if isEmbedded(in) {
		return EnvIframe
	}
	ua := in.UserAgent()
	if inAppPattern.MatchString(ua) || webviewPattern.MatchString(ua) {
		return EnvInApp
	}
	if isMobile(ua) {
		return EnvMobile
	}
	return EnvDesktop
}

// isEmbedded fails toward true: an ancestor we cannot inspect means
// restricted communication.
func isEmbedded(in Inspector) (embedded bool) {
	defer func() {
		if recover() != nil {
			embedded = true
		}
	}()
	top, err := in.IsTopLevel()
	if err != nil {
		return true
	}
	return !top
}

func isMobile(ua string) bool {
	if ua == "" {
		return false
	}
	return mobilePattern.MatchString(ua) || useragent.New(ua).Mobile()
}

// usesTab reports whether the environment opens a tab instead of a
// positioned popup window.
func (e Environment) usesTab() bool {
	return e == EnvMobile || e == EnvInApp
}
