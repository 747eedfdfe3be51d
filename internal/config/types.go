// Package config resolves a project's lucee.json (plus optional environment
// override, .env file, OS environment, and secret store) into one frozen
// ServerConfig. It implements the placeholder substitutor (C1), the .env
// parser (C2), and the layered configuration loader (C4).
package config

// ServerConfig is the resolved, fully-substituted configuration for one
// instance. It is constructed by Load; afterwards the command layer only
// fills a blank runtime type from the operator's preferences.
type ServerConfig struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	ShutdownPort  int    `json:"shutdownPort"`
	Webroot       string `json:"webroot"`
	OpenBrowser   bool   `json:"openBrowser"`
	OpenBrowserURL string `json:"openBrowserURL"`
	ConfigurationFile string `json:"configurationFile"`

	JVM         JVMConfig         `json:"jvm"`
	Monitoring  MonitoringConfig  `json:"monitoring"`
	URLRewrite  URLRewriteConfig  `json:"urlRewrite"`
	Admin       AdminConfig       `json:"admin"`
	HTTPS       HTTPSConfig       `json:"https"`
	AJP         AJPConfig         `json:"ajp"`
	Agents      map[string]AgentConfig `json:"agents"`

	Runtime RuntimeSelector `json:"runtime"`

	// Configuration is the opaque engine configuration sub-tree. It is
	// carried as a raw JSON-like value and substituted like everything
	// else, but never interpreted by this package.
	Configuration map[string]any `json:"configuration"`

	Dependencies    map[string]DependencySpec `json:"dependencies"`
	DevDependencies map[string]DependencySpec `json:"devDependencies"`
	Environments    map[string]map[string]any `json:"environments"`

	// Environment is the name of the environment layer actually applied,
	// empty when none was requested. Persisted to {baseDir}/.environment.
	Environment string `json:"-"`
}

type JVMConfig struct {
	MaxMemory       string   `json:"maxMemory"`
	MinMemory       string   `json:"minMemory"`
	AdditionalArgs  []string `json:"additionalArgs"`
}

type MonitoringConfig struct {
	Enabled bool      `json:"enabled"`
	JMX     JMXConfig `json:"jmx"`
}

type JMXConfig struct {
	Port int `json:"port"`
}

type URLRewriteConfig struct {
	Enabled    bool   `json:"enabled"`
	RouterFile string `json:"routerFile"`
}

type AdminConfig struct {
	Enabled  bool   `json:"enabled"`
	Password string `json:"password"`
}

type HTTPSConfig struct {
	Enabled  bool   `json:"enabled"`
	Port     int    `json:"port"`
	Redirect bool   `json:"redirect"`
	Keystore string `json:"keystore"`
}

type AJPConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

type AgentConfig struct {
	Enabled     bool     `json:"enabled"`
	JVMArgs     []string `json:"jvmArgs"`
	Description string   `json:"description"`
}

// RuntimeSelector picks one of the three runtime providers (C7). Exactly one
// type is active per ServerConfig.
type RuntimeSelector struct {
	Type          string `json:"type"` // embedded | external | container
	Variant       string `json:"variant"`
	CatalinaHome  string `json:"catalinaHome"`
	Image         string `json:"image"`
	Tag           string `json:"tag"`
	ContainerName string `json:"containerName"`
	Shared        bool   `json:"shared"`
	RunMode       string `json:"runMode"`
}

// DependencySpec is the project-configuration-level description of one
// dependency, before resolution. See LockedDependency for the post-install
// record.
type DependencySpec struct {
	Source      string `json:"source"` // git | file | package-registry | extension
	URL         string `json:"url,omitempty"`
	Path        string `json:"path,omitempty"`
	Ref         string `json:"ref,omitempty"`
	SubPath     string `json:"subPath,omitempty"`
	Name        string `json:"name,omitempty"`
	Version     string `json:"version,omitempty"`
	Registry    string `json:"registry,omitempty"`
	InstallPath string `json:"installPath,omitempty"`
	Mapping     string `json:"mapping,omitempty"`
}
