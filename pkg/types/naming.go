package types

import "time"

// EntityType is the kind of identifier a naming registry entry describes
type EntityType string

const (
	EntityVariable       EntityType = "variable"
	EntityFunction       EntityType = "function"
	EntityClass          EntityType = "class"
	EntityInterface      EntityType = "interface"
	EntityTypeDef        EntityType = "type"
	EntityComponent      EntityType = "component"
	EntityFile           EntityType = "file"
	EntityDirectory      EntityType = "directory"
	EntityModule         EntityType = "module"
	EntityService        EntityType = "service"
	EntityEndpoint       EntityType = "endpoint"
	EntityDatabaseTable  EntityType = "database_table"
	EntityDatabaseColumn EntityType = "database_column"
	EntityConfigKey      EntityType = "config_key"
	EntityEnvironmentVar EntityType = "environment_var"
	EntityCSSClass       EntityType = "css_class"
	EntityHTMLID         EntityType = "html_id"
)

// EntityTypes lists every accepted entity type
var EntityTypes = []EntityType{
	EntityVariable, EntityFunction, EntityClass, EntityInterface, EntityTypeDef,
	EntityComponent, EntityFile, EntityDirectory, EntityModule, EntityService,
	EntityEndpoint, EntityDatabaseTable, EntityDatabaseColumn, EntityConfigKey,
	EntityEnvironmentVar, EntityCSSClass, EntityHTMLID,
}

// Valid reports whether t is a known entity type
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// NamingEntry is the canonical name of one entity within a project and entity type.
// (ProjectID, EntityType, CanonicalName) is unique.
type NamingEntry struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"projectId"`
	EntityType        EntityType `json:"entityType"`
	CanonicalName     string     `json:"canonicalName"`
	Aliases           []string   `json:"aliases"`
	Description       string     `json:"description,omitempty"`
	NamingConvention  string     `json:"namingConvention,omitempty"`
	UsageCount        int        `json:"usageCount"`
	FirstSeen         time.Time  `json:"firstSeen"`
	LastUsed          time.Time  `json:"lastUsed"`
	Deprecated        bool       `json:"deprecated"`
	DeprecationReason string     `json:"deprecationReason,omitempty"`
	ReplacementID     *string    `json:"replacementId,omitempty"`
}

// NamingStats aggregates registry counts
type NamingStats struct {
	TotalEntries      int                `json:"totalEntries"`
	DeprecatedEntries int                `json:"deprecatedEntries"`
	TotalUsage        int                `json:"totalUsage"`
	EntriesByType     map[EntityType]int `json:"entriesByType"`
	MostUsed          []NamingUsage      `json:"mostUsed"`
}

// NamingUsage is one row of the most-used listing
type NamingUsage struct {
	EntityType    EntityType `json:"entityType"`
	CanonicalName string     `json:"canonicalName"`
	UsageCount    int        `json:"usageCount"`
}
