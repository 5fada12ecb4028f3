package types

// LoadlistItem is one (temperature, band, test cases) execution unit of a
// run. Test cases execute in list order.
type LoadlistItem struct {
	// Chamber temperature for this unit, e.g. "25C".
	Temperature string `json:"temperature"`
	// Frequency band identifier, e.g. "Band1".
	Band string `json:"band"`
	// Ordered test case names to execute at this temperature/band.
	TestCases []string `json:"test_cases"`
}

// Valid reports whether the item carries everything a plugin needs.
func (it LoadlistItem) Valid() bool {
	return it.Temperature != "" && it.Band != "" && len(it.TestCases) > 0
}

// TestConfig is the full description of one test run, submitted once with
// the start command.
type TestConfig struct {
	// Unit under test serial number.
	SerialNumber string `json:"serial_number"`
	// Model plugin name, e.g. "ModelC".
	Model string `json:"model"`
	// Production stage name, e.g. "Final".
	Stage string `json:"stage"`
	// Ordered execution units; must be non-empty.
	Loadlist []LoadlistItem `json:"loadlist"`
}

// MissingFields returns the names of required fields that are absent, in
// declaration order. An empty loadlist counts as missing.
func (c TestConfig) MissingFields() []string {
	var missing []string
	if c.SerialNumber == "" {
		missing = append(missing, "serial_number")
	}
	if c.Model == "" {
		missing = append(missing, "model")
	}
	if c.Stage == "" {
		missing = append(missing, "stage")
	}
	if len(c.Loadlist) == 0 {
		missing = append(missing, "loadlist")
	}
	return missing
}
