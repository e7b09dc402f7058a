package popup

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"popupflow/internal/popup/ports"
)

// Options control how the secondary context is opened. Zero values fall back
// to DefaultOptions.
type Options struct {
	Width  int
	Height int
	// Left and Top pin the window; when nil it is centred on the current
	// viewport.
	Left *int
	Top  *int

	Name           string
	LoadingPath    string
	LoadingTimeout time.Duration
}

// DefaultOptions returns the geometry and timings used when a flow does not
// override them.
func DefaultOptions() Options {
	return Options{
		Width:          640,
		Height:         720,
		Name:           "PopupWindow",
		LoadingPath:    "/loading",
		LoadingTimeout: 2 * time.Second,
	}
}

// merge overlays o on base field by field.
func (base Options) merge(o Options) Options {
	out := base
	if o.Width > 0 {
		out.Width = o.Width
	}
	if o.Height > 0 {
		out.Height = o.Height
	}
	if o.Left != nil {
		out.Left = o.Left
	}
	if o.Top != nil {
		out.Top = o.Top
	}
	if o.Name != "" {
		out.Name = o.Name
	}
	if o.LoadingPath != "" {
		out.LoadingPath = o.LoadingPath
	}
	if o.LoadingTimeout > 0 {
		out.LoadingTimeout = o.LoadingTimeout
	}
	return out
}

// position centres the window on the visible viewport rather than the
// physical screen.
func (o Options) position(g ports.Geometry) (left, top int) {
	left = g.ScreenLeft + g.InnerWidth/2 - o.Width/2
	top = g.ScreenTop + g.InnerHeight/2 - o.Height/2
	if o.Left != nil {
		left = *o.Left
	}
	if o.Top != nil {
		top = *o.Top
	}
	return left, top
}

func (o Options) features(left, top int) string {
	return strings.Join([]string{
		fmt.Sprintf("width=%d", o.Width),
		fmt.Sprintf("height=%d", o.Height),
		fmt.Sprintf("top=%d", top),
		fmt.Sprintf("left=%d", left),
		"scrollbars=yes",
		"resizable=no",
		"status=no",
		"location=no",
		"menubar=no",
		"toolbar=no",
	}, ",")
}

// BuildTargetURL appends the callback as the callback_url query parameter.
func BuildTargetURL(target, callback string) string {
	if callback == "" {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "callback_url=" + url.QueryEscape(callback)
}
