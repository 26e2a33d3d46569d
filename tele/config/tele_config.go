// Separate package is workaround to import cycles.
package tele_config

type Config struct { //nolint:maligned
	Driver            string   `hcl:"driver" yaml:"driver"` // mqtt|paho|kafka|noop
	Topic             string   `hcl:"topic" yaml:"topic"`   // one %s placeholder for host name
	Host              string   `hcl:"host" yaml:"host"`     // empty means os.Hostname()
	LogDebug          bool     `hcl:"log_debug" yaml:"log_debug"`
	ClientID          string   `hcl:"client_id" yaml:"client_id"`
	KeepaliveSec      int      `hcl:"keepalive_sec" yaml:"keepalive_sec"`
	MqttBroker        string   `hcl:"mqtt_broker" yaml:"mqtt_broker"`
	MqttLogDebug      bool     `hcl:"mqtt_log_debug" yaml:"mqtt_log_debug"`
	MqttUsername      string   `hcl:"mqtt_username" yaml:"mqtt_username"`
	MqttPassword      string   `hcl:"mqtt_password" yaml:"mqtt_password"` // secret
	MqttQos           int      `hcl:"mqtt_qos" yaml:"mqtt_qos"`
	MqttRetain        bool     `hcl:"mqtt_retain" yaml:"mqtt_retain"`
	KafkaBrokers      []string `hcl:"kafka_brokers" yaml:"kafka_brokers"`
	NetworkTimeoutSec int      `hcl:"network_timeout_sec" yaml:"network_timeout_sec"`
	TlsCaFile         string   `hcl:"tls_ca_file" yaml:"tls_ca_file"`
}
