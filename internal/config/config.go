// Package config loads the air drums settings from YAML, environment and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ayusman/airdrums/internal/calibrate"
	"github.com/ayusman/airdrums/internal/capture"
	"github.com/ayusman/airdrums/internal/locate"
	"github.com/ayusman/airdrums/internal/marker"
	"github.com/ayusman/airdrums/internal/strike"
	"github.com/ayusman/airdrums/internal/track"
	"github.com/ayusman/airdrums/internal/zone"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment overrides, e.g. AIRDRUMS_SERVER_ADDR.
const EnvPrefix = "AIRDRUMS"

// CameraSettings selects and preprocesses the frame source.
type CameraSettings struct {
	Device int    `mapstructure:"device"`
	File   string `mapstructure:"file"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	FPS    int    `mapstructure:"fps"`
	Mirror bool   `mapstructure:"mirror"`
}

// ModelSettings is a saved color model.
type ModelSettings struct {
	Hue        float64 `mapstructure:"hue"`
	Saturation float64 `mapstructure:"saturation"`
	Value      float64 `mapstructure:"value"`
	Tolerance  float64 `mapstructure:"tolerance"`
	Radius     float64 `mapstructure:"radius"`
}

// MarkerSettings configures one marker.
type MarkerSettings struct {
	Name  string         `mapstructure:"name"`
	Model *ModelSettings `mapstructure:"model"`
}

// Point is an image coordinate.
type Point struct {
	X float64 `mapstructure:"x"`
	Y float64 `mapstructure:"y"`
}

// CircleSettings is a round zone region.
type CircleSettings struct {
	X      float64 `mapstructure:"x"`
	Y      float64 `mapstructure:"y"`
	Radius float64 `mapstructure:"radius"`
}

// RectSettings is a rectangular zone region.
type RectSettings struct {
	X0 float64 `mapstructure:"x0"`
	Y0 float64 `mapstructure:"y0"`
	X1 float64 `mapstructure:"x1"`
	Y1 float64 `mapstructure:"y1"`
}

// ZoneSettings configures one drum zone. Exactly one of Circle and Rect is set.
type ZoneSettings struct {
	Name       string          `mapstructure:"name"`
	Instrument string          `mapstructure:"instrument"`
	Circle     *CircleSettings `mapstructure:"circle"`
	Rect       *RectSettings   `mapstructure:"rect"`
	Normal     *Point          `mapstructure:"normal"`
}

// TrackingSettings tunes localization and motion history.
type TrackingSettings struct {
	History       int     `mapstructure:"history"`
	LostThreshold int     `mapstructure:"lostThreshold"`
	MinArea       int     `mapstructure:"minArea"`
	RadiusRatio   float64 `mapstructure:"radiusRatio"`
	MinSeparation float64 `mapstructure:"minSeparation"`
	BlurKernel    int     `mapstructure:"blurKernel"`
}

// StrikeSettings tunes hit detection.
type StrikeSettings struct {
	MinSpeed    float64       `mapstructure:"minSpeed"`
	MaxSpeed    float64       `mapstructure:"maxSpeed"`
	StopSpeed   float64       `mapstructure:"stopSpeed"`
	Refractory  time.Duration `mapstructure:"refractory"`
	Window      time.Duration `mapstructure:"window"`
	MaxAccel    float64       `mapstructure:"maxAccel"`
	AccelWeight float64       `mapstructure:"accelWeight"`
}

// CalibrationSettings tunes the interactive calibration.
type CalibrationSettings struct {
	Radius      float64 `mapstructure:"radius"`
	RadiusStep  float64 `mapstructure:"radiusStep"`
	MinRadius   float64 `mapstructure:"minRadius"`
	MaxRadius   float64 `mapstructure:"maxRadius"`
	Tolerance   float64 `mapstructure:"tolerance"`
	MaxSamples  int     `mapstructure:"maxSamples"`
	SkipIfSaved bool    `mapstructure:"skipIfSaved"`
	Points      []Point `mapstructure:"points"`
}

// SoundSettings selects the drum kit and the player pool.
type SoundSettings struct {
	KitsDir string        `mapstructure:"kitsDir"`
	Kit     string        `mapstructure:"kit"`
	Workers int           `mapstructure:"workers"`
	Timeout time.Duration `mapstructure:"timeout"`
	Queue   int           `mapstructure:"queue"`
}

// ServerSettings configures the HTTP control surface.
type ServerSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// StoreSettings locates the database.
type StoreSettings struct {
	Path string `mapstructure:"path"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level string `mapstructure:"level"`
}

// Settings is the complete configuration.
type Settings struct {
	Camera      CameraSettings            `mapstructure:"camera"`
	Markers     map[string]MarkerSettings `mapstructure:"markers"`
	Zones       []ZoneSettings            `mapstructure:"zones"`
	Tracking    TrackingSettings          `mapstructure:"tracking"`
	Strike      StrikeSettings            `mapstructure:"strike"`
	Calibration CalibrationSettings       `mapstructure:"calibration"`
	Sound       SoundSettings             `mapstructure:"sound"`
	Server      ServerSettings            `mapstructure:"server"`
	Store       StoreSettings             `mapstructure:"store"`
	Log         LogSettings               `mapstructure:"log"`
	// Recalibrate forces calibration even when saved models cover every marker.
	Recalibrate bool `mapstructure:"recalibrate"`
	// Tray shows a system tray menu that drives calibration and quitting.
	Tray bool `mapstructure:"tray"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.file", "")
	v.SetDefault("camera.width", capture.DefaultWidth)
	v.SetDefault("camera.height", capture.DefaultHeight)
	v.SetDefault("camera.fps", capture.DefaultFPS)
	v.SetDefault("camera.mirror", true)

	v.SetDefault("tracking.history", track.DefaultCapacity)
	v.SetDefault("tracking.lostThreshold", track.DefaultLostThreshold)
	v.SetDefault("tracking.minArea", 30)
	v.SetDefault("tracking.radiusRatio", 2.5)
	v.SetDefault("tracking.minSeparation", 20)
	v.SetDefault("tracking.blurKernel", 11)

	v.SetDefault("strike.minSpeed", 300)
	v.SetDefault("strike.maxSpeed", 2500)
	v.SetDefault("strike.stopSpeed", 0)
	v.SetDefault("strike.refractory", "120ms")
	v.SetDefault("strike.window", "150ms")
	v.SetDefault("strike.maxAccel", 60000)
	v.SetDefault("strike.accelWeight", 0)

	v.SetDefault("calibration.radius", 30)
	v.SetDefault("calibration.radiusStep", 10)
	v.SetDefault("calibration.minRadius", 5)
	v.SetDefault("calibration.maxRadius", 120)
	v.SetDefault("calibration.tolerance", 0.1)
	v.SetDefault("calibration.maxSamples", 20000)
	v.SetDefault("calibration.skipIfSaved", true)

	v.SetDefault("sound.kitsDir", "./kits")
	v.SetDefault("sound.kit", "basic")
	v.SetDefault("sound.workers", 4)
	v.SetDefault("sound.timeout", "2s")
	v.SetDefault("sound.queue", 32)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("store.path", "~/.airdrums/airdrums.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("recalibrate", false)
	v.SetDefault("tray", false)
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"device":      "camera.device",
	"file":        "camera.file",
	"mirror":      "camera.mirror",
	"kit":         "sound.kit",
	"kits-dir":    "sound.kitsDir",
	"addr":        "server.addr",
	"no-server":   "server.disabled",
	"db":          "store.path",
	"log-level":   "log.level",
	"recalibrate": "recalibrate",
	"tray":        "tray",
}

// Flags returns the command-line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("airdrums", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "settings file (default ./airdrums.yaml or ~/.airdrums/airdrums.yaml)")
	fs.Int("device", 0, "camera device id")
	fs.String("file", "", "replay a video file instead of the camera")
	fs.Bool("mirror", true, "mirror the image horizontally")
	fs.String("kit", "basic", "drum kit name")
	fs.String("kits-dir", "./kits", "directory holding drum kits")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.Bool("no-server", false, "disable the HTTP server")
	fs.String("db", "~/.airdrums/airdrums.db", "database path")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("recalibrate", false, "calibrate even when saved color models exist")
	fs.Bool("tray", false, "show a system tray menu")
	return fs
}

// Load reads settings from path (or the default locations when path is
// empty), environment variables and flags, in increasing precedence.
// Only flags the user actually set override file values.
func Load(path string, flags *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("airdrums")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".airdrums"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Settings{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if v.GetBool("server.disabled") {
		s.Server.Enabled = false
	}

	if len(s.Markers) == 0 {
		s.Markers = DefaultMarkers()
	}
	if len(s.Zones) == 0 {
		s.Zones = DefaultZones()
	}
	s.Store.Path = expandHome(s.Store.Path)
	s.Sound.KitsDir = expandHome(s.Sound.KitsDir)

	return s, nil
}

// DefaultMarkers returns the two drumstick markers.
func DefaultMarkers() map[string]MarkerSettings {
	return map[string]MarkerSettings{
		string(marker.LeftStick):  {Name: "Left stick"},
		string(marker.RightStick): {Name: "Right stick"},
	}
}

// DefaultZones returns a basic kit laid out for a 640x480 mirrored image.
func DefaultZones() []ZoneSettings {
	return []ZoneSettings{
		{Name: "hihat", Instrument: "hihat", Circle: &CircleSettings{X: 130, Y: 330, Radius: 70}},
		{Name: "snare", Instrument: "snare", Circle: &CircleSettings{X: 280, Y: 380, Radius: 70}},
		{Name: "tom", Instrument: "tom", Circle: &CircleSettings{X: 420, Y: 360, Radius: 60}},
		{Name: "crash", Instrument: "crash", Circle: &CircleSettings{X: 540, Y: 220, Radius: 70}},
		{Name: "kick", Instrument: "kick", Rect: &RectSettings{X0: 220, Y0: 430, X1: 420, Y1: 480}},
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks the settings and wraps every problem in ErrInvalid.
func (s Settings) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	if _, err := s.MarkerIDs(); err != nil {
		return invalid("%v", err)
	}
	for name, m := range s.Markers {
		if m.Model == nil {
			continue
		}
		if err := m.Model.colorModel().Validate(); err != nil {
			return invalid("marker %s model: %v", name, err)
		}
	}
	if _, err := s.ZoneMap(); err != nil {
		return invalid("%v", err)
	}
	for _, z := range s.Zones {
		if (z.Circle == nil) == (z.Rect == nil) {
			return invalid("zone %s: exactly one of circle or rect is required", z.Name)
		}
	}

	t := s.Tracking
	switch {
	case t.History < 2:
		return invalid("tracking.history must be at least 2")
	case t.LostThreshold <= 0:
		return invalid("tracking.lostThreshold must be positive")
	case t.MinArea <= 0:
		return invalid("tracking.minArea must be positive")
	case t.RadiusRatio < 0:
		return invalid("tracking.radiusRatio must not be negative")
	case t.MinSeparation < 0:
		return invalid("tracking.minSeparation must not be negative")
	case t.BlurKernel <= 0 || t.BlurKernel%2 == 0:
		return invalid("tracking.blurKernel must be a positive odd number")
	}

	if err := s.StrikeConfig().Validate(); err != nil {
		return invalid("%v", err)
	}

	c := s.Calibration
	switch {
	case !(c.Tolerance > 0):
		return invalid("calibration.tolerance must be positive")
	case !(c.Radius > 0), !(c.MinRadius > 0), c.MaxRadius < c.MinRadius:
		return invalid("calibration radii must be positive and ordered")
	case !(c.RadiusStep > 0):
		return invalid("calibration.radiusStep must be positive")
	}

	if s.Camera.FPS <= 0 {
		return invalid("camera.fps must be positive")
	}
	if s.Sound.Workers <= 0 || s.Sound.Queue <= 0 || s.Sound.Timeout <= 0 {
		return invalid("sound workers, queue and timeout must be positive")
	}
	return nil
}

// MarkerIDs returns the configured markers in canonical order.
func (s Settings) MarkerIDs() ([]marker.ID, error) {
	for name := range s.Markers {
		if _, err := marker.ParseID(name); err != nil {
			return nil, err
		}
	}
	var ids []marker.ID
	for _, id := range marker.All() {
		if _, ok := s.Markers[string(id)]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no markers configured")
	}
	return ids, nil
}

// SavedModels returns the color models present in the settings file.
func (s Settings) SavedModels() marker.Set {
	out := make(marker.Set)
	for name, m := range s.Markers {
		if m.Model != nil {
			out[marker.ID(name)] = m.Model.colorModel()
		}
	}
	return out
}

func (m ModelSettings) colorModel() marker.ColorModel {
	return marker.ColorModel{
		Center:    marker.HSV{H: marker.NormalizeHue(m.Hue), S: m.Saturation, V: m.Value},
		Tolerance: m.Tolerance,
		Radius:    m.Radius,
	}
}

// ZoneMap builds the zone map in declaration order.
func (s Settings) ZoneMap() (*zone.Map, error) {
	zones := make([]zone.DrumZone, 0, len(s.Zones))
	for _, z := range s.Zones {
		dz := zone.DrumZone{Name: z.Name, Instrument: z.Instrument}
		switch {
		case z.Circle != nil:
			dz.Region = zone.Circle{C: r2.Vec{X: z.Circle.X, Y: z.Circle.Y}, Radius: z.Circle.Radius}
		case z.Rect != nil:
			dz.Region = zone.NewRect(z.Rect.X0, z.Rect.Y0, z.Rect.X1, z.Rect.Y1)
		}
		if z.Normal != nil {
			dz.Normal = r2.Vec{X: z.Normal.X, Y: z.Normal.Y}
		}
		zones = append(zones, dz)
	}
	return zone.NewMap(zones...)
}

// TrackConfig returns the motion history settings.
func (s Settings) TrackConfig() track.Config {
	return track.Config{
		Capacity:      s.Tracking.History,
		LostThreshold: s.Tracking.LostThreshold,
	}
}

// LocateConfig returns the localizer settings.
func (s Settings) LocateConfig() locate.Config {
	cfg := locate.DefaultConfig()
	cfg.BlurKernel = s.Tracking.BlurKernel
	cfg.MinArea = s.Tracking.MinArea
	cfg.RadiusRatio = s.Tracking.RadiusRatio
	cfg.MinSeparation = s.Tracking.MinSeparation
	return cfg
}

// StrikeConfig returns the strike detector settings.
func (s Settings) StrikeConfig() strike.Config {
	return strike.Config{
		MinSpeed:    s.Strike.MinSpeed,
		MaxSpeed:    s.Strike.MaxSpeed,
		StopSpeed:   s.Strike.StopSpeed,
		Refractory:  s.Strike.Refractory,
		Window:      s.Strike.Window,
		MaxAccel:    s.Strike.MaxAccel,
		AccelWeight: s.Strike.AccelWeight,
	}
}

// CalibrateConfig returns the calibration settings for the configured markers.
func (s Settings) CalibrateConfig() (calibrate.Config, error) {
	ids, err := s.MarkerIDs()
	if err != nil {
		return calibrate.Config{}, err
	}
	cfg := calibrate.DefaultConfig()
	cfg.Markers = ids
	cfg.FrameSize = image.Pt(s.Camera.Width, s.Camera.Height)
	cfg.Radius = s.Calibration.Radius
	cfg.RadiusStep = s.Calibration.RadiusStep
	cfg.MinRadius = s.Calibration.MinRadius
	cfg.MaxRadius = s.Calibration.MaxRadius
	cfg.Tolerance = s.Calibration.Tolerance
	cfg.MaxSamples = s.Calibration.MaxSamples
	for _, p := range s.Calibration.Points {
		cfg.Points = append(cfg.Points, image.Pt(int(p.X), int(p.Y)))
	}
	return cfg, nil
}

// CaptureOptions returns the frame source settings.
func (s Settings) CaptureOptions() capture.Options {
	return capture.Options{
		Width:    s.Camera.Width,
		Height:   s.Camera.Height,
		FPS:      s.Camera.FPS,
		MaxWidth: s.Camera.Width,
		Mirror:   s.Camera.Mirror,
	}
}
