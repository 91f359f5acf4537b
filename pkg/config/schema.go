package config

// schemaJSON is the JSON Schema the loaded configuration document is
// validated against before use, via xeipuuv/gojsonschema. It enforces the
// enumerated option shapes spec.md §6 requires (method ∈ {embedding, llm,
// both}, store backend ∈ {postgres, sqlite}) ahead of the looser
// Go-level sanity checks in validator.go.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "generators": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "temperature": {"type": "number"},
          "max_tokens": {"type": "integer"},
          "is_local": {"type": "boolean"}
        }
      }
    },
    "contrastive": {
      "type": "object",
      "properties": {
        "method": {"enum": ["embedding", "llm", "both"]}
      }
    },
    "store": {
      "type": "object",
      "properties": {
        "backend": {"enum": ["postgres", "sqlite"]}
      }
    }
  }
}`
