package config

// schema validates the merged configuration before any service is
// instantiated.  Type-specific service keys are deliberately left
// open; each factory checks its own.
const schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "services": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "type": {"type": "string", "minLength": 1}
        },
        "required": ["type"]
      }
    },
    "alias": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "string"}
      }
    },
    "cache": {
      "type": "object",
      "properties": {
        "store": {"type": "string"}
      }
    }
  }
}`
