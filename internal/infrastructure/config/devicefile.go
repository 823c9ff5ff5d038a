package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DeviceFile holds the values of a legacy device configuration file.
//
// The format is one key=value pair per line; blank lines and lines starting
// with # are ignored, as are unknown keys. Values containing $ or " #" must
// be single-quoted:
//
//	org=myorg
//	type=sensor
//	id=dev-01
//	auth-method=token
//	auth-token='s3cr$t'
//	rootCACertPath=/etc/iotdm/ca.pem
type DeviceFile struct {
	Org            string
	Domain         string
	Type           string
	ID             string
	AuthMethod     string
	AuthToken      string
	ServerCertPath string
	RootCACertPath string
	ClientCertPath string
	ClientKeyPath  string

	// UseClientCertificates is nil when the file does not set the key.
	UseClientCertificates *bool
}

// legacyKeys renames the hyphenated keys of the device file format, which
// the dotenv parser does not accept.
var legacyKeys = strings.NewReplacer(
	"\nauth-method", "\nauth_method",
	"\nauth-token", "\nauth_token",
)

// LoadDeviceFile parses a legacy device configuration file.
func LoadDeviceFile(path string) (DeviceFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from trusted config
	if err != nil {
		return DeviceFile{}, fmt.Errorf("reading device file: %w", err)
	}

	values, err := godotenv.Unmarshal(legacyKeys.Replace("\n" + string(data)))
	if err != nil {
		return DeviceFile{}, fmt.Errorf("parsing device file %s: %w", path, err)
	}

	var df DeviceFile
	for key, value := range values {
		if err := df.set(key, value); err != nil {
			return DeviceFile{}, fmt.Errorf("device file %s: %w", path, err)
		}
	}
	return df, nil
}

func (df *DeviceFile) set(key, value string) error {
	switch key {
	case "org":
		df.Org = value
	case "domain":
		df.Domain = value
	case "type":
		df.Type = value
	case "id":
		df.ID = value
	case "auth_method":
		df.AuthMethod = value
	case "auth_token":
		df.AuthToken = value
	case "serverCertPath":
		df.ServerCertPath = value
	case "rootCACertPath":
		df.RootCACertPath = value
	case "clientCertPath":
		df.ClientCertPath = value
	case "clientKeyPath":
		df.ClientKeyPath = value
	case "useClientCertificates":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("useClientCertificates: %w", err)
		}
		df.UseClientCertificates = &b
	}
	return nil
}

// apply copies every value the file sets onto cfg.
func (df DeviceFile) apply(cfg *Config) {
	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	setIf(&cfg.Device.Org, df.Org)
	setIf(&cfg.Device.Domain, df.Domain)
	setIf(&cfg.Device.Type, df.Type)
	setIf(&cfg.Device.ID, df.ID)
	setIf(&cfg.Device.AuthMethod, df.AuthMethod)
	setIf(&cfg.Device.AuthToken, df.AuthToken)
	setIf(&cfg.MQTT.TLS.ServerCert, df.ServerCertPath)
	setIf(&cfg.MQTT.TLS.CACert, df.RootCACertPath)
	setIf(&cfg.MQTT.TLS.ClientCert, df.ClientCertPath)
	setIf(&cfg.MQTT.TLS.ClientKey, df.ClientKeyPath)
	if df.UseClientCertificates != nil {
		cfg.MQTT.TLS.UseClientCertificates = *df.UseClientCertificates
	}
}
