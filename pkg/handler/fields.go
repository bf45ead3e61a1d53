package handler

// Widget names the UI control a field should render with.
type Widget string

// Widget kinds.
const (
	WidgetText     Widget = "text"
	WidgetNumber   Widget = "number"
	WidgetPassword Widget = "password"
	WidgetBool     Widget = "bool"
	WidgetSelect   Widget = "select"
	WidgetTextarea Widget = "textarea"
)

// FieldSpec describes one recognised config option of a backend kind.
type FieldSpec struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Widget   Widget   `json:"widget"`
	Required bool     `json:"required"`
	Default  any      `json:"default,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// fieldSchemas enumerates the recognised fields per kind. Describe serves
// straight from this table; Validate checks required entries against it.
var fieldSchemas = map[Kind][]FieldSpec{
	KindMySQL: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Required: true, Default: 3306},
		{Name: "database", Label: "Database", Widget: WidgetText, Required: true},
		{Name: "username", Label: "Username", Widget: WidgetText, Required: true},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
		{Name: "ssl", Label: "Use SSL", Widget: WidgetBool, Default: false},
		{Name: "schema", Label: "Schema", Widget: WidgetText},
	},
	KindPostgreSQL: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Required: true, Default: 5432},
		{Name: "database", Label: "Database", Widget: WidgetText, Required: true},
		{Name: "username", Label: "Username", Widget: WidgetText, Required: true},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
		{Name: "ssl", Label: "Use SSL", Widget: WidgetBool, Default: false},
		{Name: "schema", Label: "Schema", Widget: WidgetText, Default: "public"},
	},
	KindMongoDB: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Required: true, Default: 27017},
		{Name: "database", Label: "Database", Widget: WidgetText, Required: true},
		{Name: "connectionString", Label: "Connection String", Widget: WidgetTextarea},
		{Name: "username", Label: "Username", Widget: WidgetText},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
		{Name: "authSource", Label: "Auth Source", Widget: WidgetText, Default: "admin"},
	},
	KindSQLite: {
		{Name: "filePath", Label: "File Path", Widget: WidgetText, Required: true},
		{Name: "mode", Label: "Access Mode", Widget: WidgetSelect, Default: "readwrite",
			Options: []string{"readonly", "readwrite", "readwritecreate"}},
	},
	KindKOSISAPI: {
		{Name: "api_key", Label: "API Key", Widget: WidgetPassword, Required: true},
		{Name: "base_url", Label: "Base URL", Widget: WidgetText, Default: "https://kosis.kr/openapi"},
	},
	KindExternalAPI: {
		{Name: "base_url", Label: "Base URL", Widget: WidgetText, Required: true},
		{Name: "api_key", Label: "API Key", Widget: WidgetPassword},
		{Name: "username", Label: "Username", Widget: WidgetText},
		{Name: "tables", Label: "Virtual Tables (JSON)", Widget: WidgetTextarea},
	},

	// Described for the connection UI; Make rejects these until a handler
	// is installed.
	KindRedis: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Required: true, Default: 6379},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
		{Name: "db", Label: "Database Number", Widget: WidgetNumber, Default: 0},
	},
	KindOracle: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Required: true, Default: 1521},
		{Name: "service_name", Label: "Service Name", Widget: WidgetText, Required: true},
		{Name: "username", Label: "Username", Widget: WidgetText, Required: true},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
	},
	KindMSSQL: {
		{Name: "host", Label: "Host", Widget: WidgetText, Required: true},
		{Name: "port", Label: "Port", Widget: WidgetNumber, Required: true, Default: 1433},
		{Name: "database", Label: "Database", Widget: WidgetText, Required: true},
		{Name: "username", Label: "Username", Widget: WidgetText, Required: true},
		{Name: "password", Label: "Password", Widget: WidgetPassword},
	},
}

// SensitiveFields lists option names that must be masked in listings.
func SensitiveFields() map[string]bool {
	return map[string]bool{"password": true, "api_key": true, "connectionString": true}
}
