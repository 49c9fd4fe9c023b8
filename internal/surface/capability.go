package surface

import "github.com/gaspardpetit/detpay/internal/destination"

// FrameSpec describes the embedded frame to mount.
type FrameSpec struct {
	Src            string
	Sandbox        string
	Allow          string
	ReferrerPolicy string
	Title          string
	Loading        string
}

// NavigationRequest is a navigable request materialised from a destination.
type NavigationRequest struct {
	Method string
	Action string
	Target string
	Fields []destination.Param
}

// Renderer mounts and replaces a surface's visual state.
type Renderer interface {
	ShowLoading()
	ShowError(message string)
	MountFrame(FrameSpec)
	MountForm(NavigationRequest)
	SetMinHeight(px float64)
}

// NavigationTarget submits a navigation request.
type NavigationTarget interface {
	Navigate(NavigationRequest) error
}
