package core

// Basemap styles.
const (
	BasemapDark      = "dark"
	BasemapLight     = "light"
	BasemapVoyager   = "voyager"
	BasemapSatellite = "satellite"
)

// Basemaps returns the known basemap names.
func Basemaps() []string {
	return []string{BasemapDark, BasemapLight, BasemapVoyager, BasemapSatellite}
}

// View is the initial camera.
type View struct {
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Zoom      float64 `json:"zoom" mapstructure:"zoom"`
	Pitch     float64 `json:"pitch" mapstructure:"pitch"`
	Bearing   float64 `json:"bearing" mapstructure:"bearing"`
}

// MapConfig is a decoded map document.
type MapConfig struct {
	Basemap string        `json:"basemap,omitempty"`
	Theme   string        `json:"theme,omitempty"`
	View    *View         `json:"view,omitempty"`
	Layers  []LayerConfig `json:"layers"`
}
