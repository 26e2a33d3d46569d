// Separate package for device config structure, keeps state free of hardware imports.
package ar844_config

type Config struct { //nolint:maligned
	Driver            string `hcl:"driver" yaml:"driver"` // usb|hidraw|mock
	Path              string `hcl:"path" yaml:"path"`     // hidraw device node
	VendorID          int    `hcl:"vendor_id" yaml:"vendor_id"`
	ProductID         int    `hcl:"product_id" yaml:"product_id"`
	Configuration     int    `hcl:"configuration" yaml:"configuration"`
	Interface         int    `hcl:"interface" yaml:"interface"`
	EndpointIn        int    `hcl:"endpoint_in" yaml:"endpoint_in"`
	EndpointOut       int    `hcl:"endpoint_out" yaml:"endpoint_out"`
	PollIntervalMs    int    `hcl:"poll_interval_ms" yaml:"poll_interval_ms"`
	TransferTimeoutMs int    `hcl:"transfer_timeout_ms" yaml:"transfer_timeout_ms"`
	WaitTimeoutMs     int    `hcl:"wait_timeout_ms" yaml:"wait_timeout_ms"`
	LogDebug          bool   `hcl:"log_debug" yaml:"log_debug"`
}
