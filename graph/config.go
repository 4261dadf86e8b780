package graph

import (
	"fmt"
	"os"
	"strings"

	"github.com/xaionaro-go/raspivid/component"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/port"
	"github.com/xaionaro-go/raspivid/types"
	"github.com/xaionaro-go/typing"
	"gopkg.in/yaml.v3"
)

type ComponentType string

const (
	ComponentTypeCamera   = ComponentType("camera")
	ComponentTypeEncoder  = ComponentType("encoder")
	ComponentTypeResizer  = ComponentType("resizer")
	ComponentTypeSplitter = ComponentType("splitter")
	ComponentTypeRenderer = ComponentType("renderer")
	ComponentTypeOverlay  = ComponentType("overlay")
	ComponentTypeNullSink = ComponentType("null_sink")
)

// Config describes a pipeline: which stages exist, which port formats are
// forced before linking, and how the stages are linked.
type Config struct {
	Components []ComponentConfig `yaml:"components"`
	Formats    []FormatConfig    `yaml:"formats,omitempty"`
	Links      []LinkConfig      `yaml:"links"`
}

// ComponentConfig is a stage. Only the field matching Type is used; when
// it is omitted the stage defaults apply.
type ComponentConfig struct {
	Name     string                    `yaml:"name"`
	Type     ComponentType             `yaml:"type"`
	Camera   *component.CameraConfig   `yaml:"camera,omitempty"`
	Encoder  *EncoderConfig            `yaml:"encoder,omitempty"`
	Resizer  *component.ResizerConfig  `yaml:"resizer,omitempty"`
	Renderer *component.RendererConfig `yaml:"renderer,omitempty"`
	Overlay  *component.OverlayConfig  `yaml:"overlay,omitempty"`
}

// EncoderConfig is component.EncoderConfig plus its optional knobs in a
// YAML-friendly form.
type EncoderConfig struct {
	component.EncoderConfig `yaml:",inline"`
	IntraPeriod             *uint32          `yaml:"intra_period,omitempty"`
	QuantisationParameter   *uint32          `yaml:"qp,omitempty"`
	IntraRefresh            *hw.IntraRefresh `yaml:"intra_refresh,omitempty"`
}

func (cfg EncoderConfig) toComponent() component.EncoderConfig {
	r := cfg.EncoderConfig
	if cfg.IntraPeriod != nil {
		r.IntraPeriod = typing.Opt(*cfg.IntraPeriod)
	}
	if cfg.QuantisationParameter != nil {
		r.QuantisationParameter = typing.Opt(*cfg.QuantisationParameter)
	}
	if cfg.IntraRefresh != nil {
		r.IntraRefresh = typing.Opt(*cfg.IntraRefresh)
	}
	return r
}

// UnmarshalYAML fills the stage config with its defaults before decoding,
// so the YAML only needs to mention what differs.
func (c *ComponentConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ComponentConfig
	var header struct {
		Name string        `yaml:"name"`
		Type ComponentType `yaml:"type"`
	}
	if err := node.Decode(&header); err != nil {
		return err
	}
	result := ComponentConfig{Name: header.Name, Type: header.Type}
	result.setDefaults()
	if err := node.Decode((*plain)(&result)); err != nil {
		return err
	}
	*c = result
	return nil
}

func (c *ComponentConfig) setDefaults() {
	switch c.Type {
	case ComponentTypeCamera:
		if c.Camera == nil {
			c.Camera = ptr(component.DefaultCameraConfig())
		}
	case ComponentTypeEncoder:
		if c.Encoder == nil {
			c.Encoder = &EncoderConfig{EncoderConfig: component.DefaultEncoderConfig()}
		}
	case ComponentTypeResizer:
		if c.Resizer == nil {
			c.Resizer = ptr(component.DefaultResizerConfig())
		}
	case ComponentTypeRenderer:
		if c.Renderer == nil {
			c.Renderer = ptr(component.DefaultRendererConfig())
		}
	case ComponentTypeOverlay:
		if c.Overlay == nil {
			c.Overlay = ptr(component.DefaultOverlayConfig())
		}
	}
}

// FormatConfig overrides (parts of) the format of a port. Zero fields keep
// the current value.
type FormatConfig struct {
	Port      string          `yaml:"port"`
	Encoding  types.Encoding  `yaml:"encoding,omitempty"`
	Width     uint32          `yaml:"width,omitempty"`
	Height    uint32          `yaml:"height,omitempty"`
	FrameRate *types.Rational `yaml:"framerate,omitempty"`
	Bitrate   uint32          `yaml:"bitrate,omitempty"`
}

func (cfg FormatConfig) apply(f types.Format) types.Format {
	if cfg.Encoding != types.EncodingUnknown {
		f.Encoding = cfg.Encoding
	}
	if cfg.Width != 0 {
		f.Width = cfg.Width
		f.Crop.Width = 0
	}
	if cfg.Height != 0 {
		f.Height = cfg.Height
		f.Crop.Height = 0
	}
	if cfg.FrameRate != nil {
		f.FrameRate = *cfg.FrameRate
	}
	if cfg.Bitrate != 0 {
		f.Bitrate = cfg.Bitrate
	}
	return f
}

// LinkConfig connects From (an output port, "name.port" or just "name" for
// the default output) to To (a stage; "name.port" must name its default
// input).
type LinkConfig struct {
	From string    `yaml:"from"`
	To   string    `yaml:"to"`
	Mode port.Mode `yaml:"mode,omitempty"`
}

func (l LinkConfig) String() string {
	return fmt.Sprintf("%s -> %s (%s)", l.From, l.To, l.Mode)
}

// splitEndpoint splits "name.port" into its parts; the port is empty for a
// bare "name".
func splitEndpoint(s string) (string, string) {
	name, portName, _ := strings.Cut(s, ".")
	return name, portName
}

func ParseConfig(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("unable to parse the pipeline config: %w", err)
	}
	return &cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read '%s': %w", path, err)
	}
	return ParseConfig(b)
}

func (cfg Config) Bytes() ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks names and references; it does not touch any hardware.
func (cfg Config) Validate() error {
	names := map[string]ComponentType{}
	for _, c := range cfg.Components {
		if c.Name == "" {
			return ErrInvalidConfig{Reason: "a component without a name"}
		}
		if strings.Contains(c.Name, ".") {
			return ErrInvalidConfig{Reason: fmt.Sprintf("component name '%s' contains a dot", c.Name)}
		}
		if _, ok := names[c.Name]; ok {
			return ErrInvalidConfig{Reason: fmt.Sprintf("component '%s' is defined twice", c.Name)}
		}
		switch c.Type {
		case ComponentTypeCamera, ComponentTypeEncoder, ComponentTypeResizer,
			ComponentTypeSplitter, ComponentTypeRenderer, ComponentTypeOverlay,
			ComponentTypeNullSink:
		default:
			return ErrUnknownComponentType{Type: c.Type}
		}
		names[c.Name] = c.Type
	}
	for _, f := range cfg.Formats {
		name, portName := splitEndpoint(f.Port)
		if _, ok := names[name]; !ok {
			return ErrUnknownComponent{Name: name}
		}
		if portName == "" {
			return ErrInvalidConfig{Reason: fmt.Sprintf("format override '%s' does not name a port", f.Port)}
		}
	}
	sinks := map[string]struct{}{}
	for _, l := range cfg.Links {
		from, _ := splitEndpoint(l.From)
		to, _ := splitEndpoint(l.To)
		for _, name := range []string{from, to} {
			if _, ok := names[name]; !ok {
				return ErrUnknownComponent{Name: name}
			}
		}
		if from == to {
			return ErrInvalidConfig{Reason: fmt.Sprintf("%s links a component to itself", l)}
		}
		// every stage has a single input
		if _, ok := sinks[to]; ok {
			return ErrInvalidConfig{Reason: fmt.Sprintf("component '%s' is linked to more than once", to)}
		}
		sinks[to] = struct{}{}
	}
	return nil
}

// DefaultConfig is the classic pipeline: the preview goes to the display,
// stills are discarded and the video is split between an H.264 encoder
// and a 640x480 resizer.
func DefaultConfig() Config {
	return Config{
		Components: []ComponentConfig{
			{Name: "camera", Type: ComponentTypeCamera, Camera: ptr(component.DefaultCameraConfig())},
			{Name: "preview", Type: ComponentTypeRenderer, Renderer: ptr(component.DefaultRendererConfig())},
			{Name: "nullsink", Type: ComponentTypeNullSink},
			{Name: "splitter", Type: ComponentTypeSplitter},
			{Name: "encoder", Type: ComponentTypeEncoder, Encoder: &EncoderConfig{EncoderConfig: component.DefaultEncoderConfig()}},
			{Name: "resizer", Type: ComponentTypeResizer, Resizer: ptr(component.DefaultResizerConfig())},
		},
		Formats: []FormatConfig{
			{Port: "camera." + component.PortNameVideo, Encoding: types.EncodingI420},
		},
		Links: []LinkConfig{
			{From: "camera." + component.PortNamePreview, To: "preview"},
			{From: "camera." + component.PortNameStill, To: "nullsink"},
			{From: "camera", To: "splitter"},
			{From: "splitter", To: "encoder"},
			{From: "splitter." + component.PortNameOutput1, To: "resizer"},
		},
	}
}

func ptr[T any](v T) *T {
	return &v
}
