package visapi

import "github.com/VadimVDM/VisAPI-sub006/id"

// ID is the primary identifier type for queue entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
