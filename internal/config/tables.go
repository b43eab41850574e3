package config

// FlowMeter describes a flow sensor model.
type FlowMeter struct {
	Model        string  `yaml:"model"`
	FlowConstant float64 `yaml:"flow_constant"`
}

// Keg describes a supply container.
type Keg struct {
	Type   string  `yaml:"type"`
	Volume float64 `yaml:"volume"` // liters
}

// FlowMeters maps model names to their manufacturer flow constants.
var FlowMeters = map[string]FlowMeter{
	"fl-s401a": {Model: "fl-s401a", FlowConstant: 98}, // digiten
	"gr-r401":  {Model: "gr-r401", FlowConstant: 98},  // gredia
	"gr-301":   {Model: "gr-301", FlowConstant: 21},   // gredia, 3/8"
	"ux0151":   {Model: "ux0151", FlowConstant: 76},   // uxcell a18041200ux0151
}

// Kegs maps keg types to their nominal volume.
var Kegs = map[string]Keg{
	"corny":       {Type: "corny", Volume: 18.93},       // cornelius
	"sixtel":      {Type: "sixtel", Volume: 19.55},      // sixth-barrel
	"quarter":     {Type: "quarter", Volume: 29.34},     // pony
	"half-barrel": {Type: "half-barrel", Volume: 58.67}, // full-size
}
