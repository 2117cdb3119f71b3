package types

// JSONMap is a free-form jsonb column (history context, gateway aux data).
type JSONMap map[string]any
