package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// validate is a global validator instance used to validate struct fields based on tags.
var validate *validator.Validate

// Config holds all the configuration parameters necessary for properly configuring the application.
type Config struct {
	Global             Global               `yaml:"-"`                   // Global contains flags only settable from the command line.
	Log                Log                  `yaml:"log"`                 // Log holds configuration related to logging.
	OpenTelemetry      OpenTelemetry        `yaml:"opentelemetry"`       // OpenTelemetry contains configuration settings for OpenTelemetry integration.
	Server             Server               `yaml:"server"`              // Server holds configuration related to the HTTP server.
	Redis              Redis                `yaml:"redis"`               // Redis holds configuration parameters for connecting to Redis.
	Store              Store                `yaml:"store"`               // Store selects where settings, schedules and run logs are persisted.
	Projects           Projects             `yaml:"projects"`            // Projects configures how deployments are discovered on disk.
	Runtime            Runtime              `yaml:"runtime"`             // Runtime configures the external git and compose commands.
	Orchestrator       Orchestrator         `yaml:"orchestrator"`        // Orchestrator tunes global runs.
	Scheduler          Scheduler            `yaml:"scheduler"`           // Scheduler tunes schedule triggers and the task queue.
	DeploymentDefaults DeploymentParameters `yaml:"deployment_defaults"` // DeploymentDefaults applies to every deployment without an override.

	// Deployments holds per deployment overrides, matched by directory name.
	Deployments []Deployment `validate:"unique=Name,dive" yaml:"deployments"`
}

// Log holds runtime logging configuration.
type Log struct {
	// Level sets the verbosity of logs.
	Level string `default:"info" validate:"required,oneof=trace debug info warning error fatal panic"`

	// Format defines the output format of logs.
	Format string `default:"text" validate:"oneof=text json"`

	// ReportCaller adds the calling function, file and line to every entry.
	ReportCaller bool `default:"false" yaml:"report_caller"`
}

// OpenTelemetry holds OpenTelemetry-related configuration.
type OpenTelemetry struct {
	// GRPCEndpoint is the gRPC address of the OpenTelemetry collector; tracing is disabled when empty.
	GRPCEndpoint string `yaml:"grpc_endpoint"`
}

// Server holds HTTP server configuration.
type Server struct {
	ListenAddress string        `default:":8000" yaml:"listen_address"`
	EnablePprof   bool          `default:"false" yaml:"enable_pprof"` // EnablePprof enables profiling endpoints for debugging performance issues.
	Metrics       ServerMetrics `yaml:"metrics"`                      // Metrics contains configuration related to exposing Prometheus metrics.
}

// ServerMetrics holds configuration for the metrics endpoint.
type ServerMetrics struct {
	EnableOpenmetricsEncoding bool `default:"false" yaml:"enable_openmetrics_encoding"`
	Enabled                   bool `default:"true" yaml:"enabled"` // Enabled controls whether the /metrics endpoint is exposed.
}

// Redis holds the Redis connection configuration.
type Redis struct {
	// URL is the Redis connection string; Redis is only used when set.
	URL string `yaml:"url"`
}

// Store selects the persistence backend.
type Store struct {
	// Driver is one of local (in memory, lost on restart), sqlite or redis.
	Driver string `default:"sqlite" validate:"oneof=local sqlite redis,store-driver-backend" yaml:"driver"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `default:"/app/data/pullpilot.db" yaml:"sqlite_path"`
}

// Projects configures deployment discovery.
type Projects struct {
	// Root is the directory whose immediate subdirectories are deployments.
	Root string `default:"/app/projects" validate:"required" yaml:"root"`

	// ReservedNames are directory names never treated as deployments, compared case-insensitively.
	ReservedNames []string `default:"[\"pullpilot\",\"pullpilot-ui\",\"docker-updater\",\"data\"]" yaml:"reserved_names"`

	// DescriptorFiles are the file names marking a directory as a deployment.
	DescriptorFiles []string `default:"[\"docker-compose.yml\",\"docker-compose.yaml\",\"compose.yml\",\"compose.yaml\"]" validate:"min=1" yaml:"descriptor_files"`
}

// Runtime configures the external commands.
type Runtime struct {
	// ComposeCommand forces the compose invocation (e.g. "docker-compose"); detected when empty.
	ComposeCommand string `yaml:"compose_command"`

	DockerBinary string `default:"docker" validate:"required" yaml:"docker_binary"`
	GitBinary    string `default:"git" validate:"required" yaml:"git_binary"`

	// CommandTimeoutSeconds bounds every single external command; a timeout fails the step.
	CommandTimeoutSeconds int `default:"900" validate:"gte=1" yaml:"command_timeout_seconds"`

	MaximumCommandsPerSecond   int `default:"10" validate:"gte=1" yaml:"maximum_commands_per_second"`
	BurstableCommandsPerSecond int `default:"10" validate:"gte=1" yaml:"burstable_commands_per_second"`
}

// Orchestrator tunes global runs.
type Orchestrator struct {
	// CooldownSeconds is waited between two consecutive deployments of a global run.
	CooldownSeconds int `default:"3" validate:"gte=0" yaml:"cooldown_seconds"`

	// CleanupGraceSeconds is waited before pruning images once every deployment succeeded.
	CleanupGraceSeconds int `default:"10" validate:"gte=0" yaml:"cleanup_grace_seconds"`

	// HistoryLimit is the default amount of run logs returned by history listings.
	HistoryLimit int `default:"20" validate:"gte=1" yaml:"history_limit"`
}

// Scheduler tunes schedule triggers and the task queue.
type Scheduler struct {
	// Timezone is used to interpret cron expressions and timestamps without offset.
	Timezone string `default:"UTC" validate:"required" yaml:"timezone"`

	// MaximumJobsQueueSize caps the amount of tasks waiting to be executed.
	MaximumJobsQueueSize int `default:"100" validate:"gte=1" yaml:"maximum_jobs_queue_size"`

	// JobReservationTimeoutSeconds is how long a queued job may run before the
	// Redis queue hands it out again. It must outlast a whole global run.
	JobReservationTimeoutSeconds int `default:"86400" validate:"gte=60" yaml:"job_reservation_timeout_seconds"`
}

// pipelineSteps is the maximum amount of commands of a deployment update:
// git pull, compose pull, compose down and compose up.
const pipelineSteps = 4

// JobReservationTimeout returns the reservation timeout of queued jobs. It is
// never shorter than the longest possible update of a single deployment.
func (c Config) JobReservationTimeout() time.Duration {
	longest := c.Runtime.CommandTimeoutSeconds
	for _, p := range append([]DeploymentParameters{c.DeploymentDefaults}, deploymentParameters(c.Deployments)...) {
		if p.CommandTimeoutSeconds > longest {
			longest = p.CommandTimeoutSeconds
		}
	}

	floor := time.Duration(pipelineSteps*longest)*time.Second + time.Minute
	if configured := time.Duration(c.Scheduler.JobReservationTimeoutSeconds) * time.Second; configured > floor {
		return configured
	}

	return floor
}

func deploymentParameters(deployments []Deployment) []DeploymentParameters {
	out := make([]DeploymentParameters, 0, len(deployments))
	for _, d := range deployments {
		out = append(out, d.DeploymentParameters)
	}

	return out
}

// UnmarshalYAML applies default values before decoding the document on top of them.
func (c *Config) UnmarshalYAML(v *yaml.Node) (err error) {
	type localConfig Config

	_cfg := localConfig{}
	defaults.MustSet(&_cfg)

	if err = v.Decode(&_cfg); err != nil {
		return
	}

	global := c.Global
	*c = Config(_cfg)
	c.Global = global

	return
}

// ToYAML returns the configuration as YAML with credentials redacted.
func (c Config) ToYAML() string {
	if u, err := url.Parse(c.Redis.URL); err == nil && c.Redis.URL != "" {
		c.Redis.URL = u.Redacted()
	}

	b, err := yaml.Marshal(c)
	if err != nil {
		panic(err)
	}

	return string(b)
}

// Validate checks the configuration against its struct tags and custom rules.
func (c Config) Validate() error {
	if validate == nil {
		validate = validator.New()
		_ = validate.RegisterValidation("store-driver-backend", ValidateStoreDriverBackend)
	}

	return validate.Struct(c)
}

// Log returns the orchestrator settings as log fields.
func (o Orchestrator) Log() log.Fields {
	return log.Fields{
		"cooldown":      fmt.Sprintf("%ds", o.CooldownSeconds),
		"cleanup-grace": fmt.Sprintf("%ds", o.CleanupGraceSeconds),
		"history-limit": o.HistoryLimit,
	}
}

// ValidateStoreDriverBackend ensures the redis driver is only selected along with a Redis URL.
func ValidateStoreDriverBackend(v validator.FieldLevel) bool {
	if v.Field().String() != "redis" {
		return true
	}

	return v.Top().FieldByName("Redis").FieldByName("URL").String() != ""
}

// New returns a new config with the default parameters.
func New() (c Config) {
	defaults.MustSet(&c)
	return
}
