package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mastercactapus/gsla/bus"
	"github.com/mastercactapus/gsla/hw"
	"github.com/mastercactapus/gsla/logging"
	"github.com/mastercactapus/gsla/motor"
	"github.com/mastercactapus/gsla/printer"
	"github.com/spf13/viper"
)

type Config struct {
	Serial      SerialConfig      `mapstructure:"serial"`
	Motor       MotorConfig       `mapstructure:"motor"`
	GPIO        GPIOConfig        `mapstructure:"gpio"`
	Print       PrintConfig       `mapstructure:"print"`
	Temperature TemperatureConfig `mapstructure:"temperature"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
}

type SerialConfig struct {
	Device      string        `mapstructure:"device"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	Bridge      string        `mapstructure:"bridge"`
	Simulate    bool          `mapstructure:"simulate"`
	SimScale    float64       `mapstructure:"sim_scale"`
}

type MotorConfig struct {
	InitTimeout   time.Duration `mapstructure:"init_timeout"`
	TimeoutMargin time.Duration `mapstructure:"timeout_margin"`
	HomeAllowance time.Duration `mapstructure:"home_allowance"`
	Retries       int           `mapstructure:"retries"`
	Backoff       time.Duration `mapstructure:"backoff"`
	Microstepping int           `mapstructure:"microstepping"`
}

// GPIOConfig holds sysfs line numbers; zero disables a line.
type GPIOConfig struct {
	Door      int           `mapstructure:"door"`
	Rotation  int           `mapstructure:"rotation"`
	Button    int           `mapstructure:"button"`
	ActiveLow bool          `mapstructure:"active_low"`
	Debounce  time.Duration `mapstructure:"debounce"`
}

type PrintConfig struct {
	JobName               string        `mapstructure:"job_name"`
	Layers                int           `mapstructure:"layers"`
	Exposure              time.Duration `mapstructure:"exposure"`
	FirstExposure         time.Duration `mapstructure:"first_exposure"`
	SettleDelay           time.Duration `mapstructure:"settle_delay"`
	StartSteps            int32         `mapstructure:"start_steps"`
	LayerSteps            int32         `mapstructure:"layer_steps"`
	LiftSteps             int32         `mapstructure:"lift_steps"`
	SeparationSteps       int32         `mapstructure:"separation_steps"`
	PressSteps            int32         `mapstructure:"press_steps"`
	CalibrationSteps      int32         `mapstructure:"calibration_steps"`
	StepRate              uint32        `mapstructure:"step_rate"`
	DetectJams            bool          `mapstructure:"detect_jams"`
	SecondsPerLayerMotion time.Duration `mapstructure:"seconds_per_layer_motion"`
}

type TemperatureConfig struct {
	Path      string        `mapstructure:"path"`
	Interval  time.Duration `mapstructure:"interval"`
	Threshold float64       `mapstructure:"threshold"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

func setDefaults(v *viper.Viper) {
	m := motor.DefaultConfig()
	p := printer.DefaultSettings()

	v.SetDefault("serial.device", "/dev/ttyO1")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.read_timeout", bus.DefaultReplyTimeout)
	v.SetDefault("serial.bridge", "")
	v.SetDefault("serial.simulate", false)
	v.SetDefault("serial.sim_scale", 1.0)

	v.SetDefault("motor.init_timeout", m.InitTimeout)
	v.SetDefault("motor.timeout_margin", m.TimeoutMargin)
	v.SetDefault("motor.home_allowance", m.HomeAllowance)
	v.SetDefault("motor.retries", m.Retries)
	v.SetDefault("motor.backoff", m.Backoff)
	v.SetDefault("motor.microstepping", int(p.Microstepping))

	v.SetDefault("gpio.door", 0)
	v.SetDefault("gpio.rotation", 0)
	v.SetDefault("gpio.button", 0)
	v.SetDefault("gpio.active_low", false)
	v.SetDefault("gpio.debounce", 20*time.Millisecond)

	v.SetDefault("print.job_name", "job")
	v.SetDefault("print.layers", 0)
	v.SetDefault("print.exposure", p.Exposure)
	v.SetDefault("print.first_exposure", p.FirstExposure)
	v.SetDefault("print.settle_delay", p.SettleDelay)
	v.SetDefault("print.start_steps", p.StartSteps)
	v.SetDefault("print.layer_steps", p.LayerSteps)
	v.SetDefault("print.lift_steps", p.LiftSteps)
	v.SetDefault("print.separation_steps", p.SeparationSteps)
	v.SetDefault("print.press_steps", p.PressSteps)
	v.SetDefault("print.calibration_steps", p.CalibrationSteps)
	v.SetDefault("print.step_rate", p.StepRate)
	v.SetDefault("print.detect_jams", p.DetectJams)
	v.SetDefault("print.seconds_per_layer_motion", p.MotionPerLayer)

	v.SetDefault("temperature.path", "")
	v.SetDefault("temperature.interval", p.TemperatureInterval)
	v.SetDefault("temperature.threshold", p.TemperatureThreshold)

	v.SetDefault("http.addr", ":8081")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
}

// Load reads path (if not empty) and GSLA_* environment variables over the
// defaults, e.g. GSLA_SERIAL_DEVICE or GSLA_PRINT_EXPOSURE=10s.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GSLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if !c.Serial.Simulate && c.Serial.Device == "" {
		errs = append(errs, errors.New("serial.device is required unless serial.simulate is set"))
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, errors.New("serial.baud must be positive"))
	}
	if c.Motor.Retries < 0 {
		errs = append(errs, errors.New("motor.retries must not be negative"))
	}
	if c.Motor.Microstepping < 0 || c.Motor.Microstepping > 255 || !motor.Mode(c.Motor.Microstepping).Valid() {
		errs = append(errs, fmt.Errorf("motor.microstepping %d: %w", c.Motor.Microstepping, motor.ErrInvalidMode))
	}
	if c.Print.StepRate == 0 {
		errs = append(errs, errors.New("print.step_rate must be positive"))
	}
	if c.Print.Layers < 0 {
		errs = append(errs, errors.New("print.layers must not be negative"))
	}
	if c.Print.Exposure <= 0 {
		errs = append(errs, errors.New("print.exposure must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) MotorConfig() motor.Config {
	m := motor.DefaultConfig()
	m.InitTimeout = c.Motor.InitTimeout
	m.TimeoutMargin = c.Motor.TimeoutMargin
	m.HomeAllowance = c.Motor.HomeAllowance
	m.Retries = c.Motor.Retries
	m.Backoff = c.Motor.Backoff
	return m
}

func (c *Config) Settings() printer.Settings {
	return printer.Settings{
		Microstepping:        motor.Mode(c.Motor.Microstepping),
		StepRate:             c.Print.StepRate,
		Exposure:             c.Print.Exposure,
		FirstExposure:        c.Print.FirstExposure,
		SettleDelay:          c.Print.SettleDelay,
		StartSteps:           c.Print.StartSteps,
		LayerSteps:           c.Print.LayerSteps,
		LiftSteps:            c.Print.LiftSteps,
		SeparationSteps:      c.Print.SeparationSteps,
		PressSteps:           c.Print.PressSteps,
		CalibrationSteps:     c.Print.CalibrationSteps,
		DetectJams:           c.Print.DetectJams,
		MotionPerLayer:       c.Print.SecondsPerLayerMotion,
		TemperatureInterval:  c.Temperature.Interval,
		TemperatureThreshold: c.Temperature.Threshold,
	}
}

// Job is what START without arguments prints.
func (c *Config) Job() printer.Job {
	return printer.Job{Name: c.Print.JobName, Layers: c.Print.Layers}
}

func (c *Config) BusConfig() bus.Config {
	return bus.Config{
		Device:       c.Serial.Device,
		Baud:         c.Serial.Baud,
		Bridge:       c.Serial.Bridge,
		ReplyTimeout: c.Serial.ReadTimeout,
	}
}

func (c *Config) SimConfig() bus.SimConfig {
	return bus.SimConfig{Scale: c.Serial.SimScale, HomeDuration: 2 * time.Second}
}

// Line returns the configuration of a GPIO line, and false if n disables it.
func (c *Config) Line(n int) (hw.LineConfig, bool) {
	if n <= 0 {
		return hw.LineConfig{}, false
	}
	return hw.LineConfig{Number: n, ActiveLow: c.GPIO.ActiveLow, Debounce: c.GPIO.Debounce}, true
}

func (c *Config) LogOptions(console io.Writer) logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Console:    console,
	}
}
