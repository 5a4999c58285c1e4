package config

import (
	"os"
	"strconv"
	"strings"

	"k8s.io/client-go/kubernetes"
)

type LDAPConfig struct {
	BindUser string
	BindPass string
	FQDN     string
	Port     int
	BaseDN   string
}

type KubeConfig struct {
	Clientset *kubernetes.Clientset
	Namespace string
	JobImage  string
	JobsTTL   int
}

type JWTConfig struct {
	Key           []byte
	ExpirySeconds int
}

type DBConfig struct {
	Name     string
	Host     string
	User     string
	Password string
	Port     int
	SSL      string
}

type ESConfig struct {
	CloudID string
	APIKey  string
	Index   string
}

// WorkerConfig sizes the execution pool. TotalCores is the shared
// capacity jobs and cluster reservations draw from; CoreTypes maps a
// core type name to its weight in cores.
type WorkerConfig struct {
	Executor     string
	TotalCores   int
	CoreTypes    map[string]int
	BootstrapCmd string
	MaxOutputKB  int
	PollInterval int
}

type Config struct {
	Environment string
	RootSecret  string
	DataDir     string
	DebugMode   bool
	LDAP        LDAPConfig
	Kube        KubeConfig
	JWT         JWTConfig
	DB          DBConfig
	ES          ESConfig
	Worker      WorkerConfig
}

// New returns a new Config struct
func NewConfig() Config {
	return Config{
		Environment: getEnv("ENV", "development"),
		RootSecret:  getEnv("ROOT_SECRET", "vac-root"),
		DataDir:     getEnv("DATA_DIR", "/var/lib/vac"),
		DebugMode:   getEnvAsBool("DEBUG_MODE", true),
		LDAP: LDAPConfig{
			BindUser: getEnv("LDAP_BIND_USER", ""),
			BindPass: getEnv("LDAP_BIND_PASS", ""),
			FQDN:     getEnv("LDAP_FQDN", ""),
			Port:     getEnvAsInt("LDAP_PORT", -1),
			BaseDN:   getEnv("LDAP_BASE_DN", ""),
		},
		Kube: KubeConfig{
			Clientset: nil,
			Namespace: getEnv("NAMESPACE", "vac"),
			JobImage:  getEnv("JOB_IMAGE", "multyvac/runtime:latest"),
			JobsTTL:   getEnvAsInt("JOBS_TTL", 3600), // Default 1 hour
		},
		JWT: JWTConfig{
			Key:           []byte(getEnv("JWT_KEY", "")),
			ExpirySeconds: getEnvAsInt("JWT_EXPIRY_SECONDS", 3600), // Default 1 hour expiry
		},
		DB: DBConfig{
			Name:     getEnv("DB_NAME", ""),
			Host:     getEnv("DB_HOST", ""),
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			Port:     getEnvAsInt("DB_PORT", -1),
			SSL:      getEnv("DB_SSL", "disabled"),
		},
		ES: ESConfig{
			CloudID: getEnv("ES_CLOUD_ID", ""),
			APIKey:  getEnv("ES_API_KEY", ""),
			Index:   getEnv("ES_INDEX", "vac-audit"),
		},
		Worker: WorkerConfig{
			Executor:     getEnv("EXECUTOR", "local"),
			TotalCores:   getEnvAsInt("TOTAL_CORES", 8),
			CoreTypes:    getEnvAsCoreTypes("CORE_TYPES", map[string]int{"c1": 1, "c2": 2, "f2": 2}),
			BootstrapCmd: getEnv("BOOTSTRAP_CMD", "vac-bootstrap"),
			MaxOutputKB:  getEnvAsInt("MAX_OUTPUT_KB", 1024),
			PollInterval: getEnvAsInt("QUEUE_POLL_SECONDS", 5),
		},
	}
}

// Simple helper function to read an environment or return a default value
func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}

	return defaultVal
}

// Simple helper function to read an environment variable into integer or return a default value
func getEnvAsInt(name string, defaultVal int) int {
	valueStr := getEnv(name, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}

	return defaultVal
}

// Helper to read an environment variable into a bool or return default value
func getEnvAsBool(name string, defaultVal bool) bool {
	valStr := getEnv(name, "")
	if val, err := strconv.ParseBool(valStr); err == nil {
		return val
	}

	return defaultVal
}

// Parses "c1:1,c2:2,f2:2" into core type weights.
func getEnvAsCoreTypes(name string, defaultVal map[string]int) map[string]int {
	valStr := getEnv(name, "")
	if valStr == "" {
		return defaultVal
	}

	types := map[string]int{}
	for _, pair := range strings.Split(valStr, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		if weight, err := strconv.Atoi(parts[1]); err == nil && weight > 0 {
			types[parts[0]] = weight
		}
	}
	if len(types) == 0 {
		return defaultVal
	}

	return types
}
