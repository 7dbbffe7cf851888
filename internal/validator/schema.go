package validator

// manifestSchema is the structural contract for a current-version
// manifest document. Migration runs first, so old shapes never reach
// this schema.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "version", "entry"],
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-z0-9-]+$",
      "minLength": 1,
      "maxLength": 64
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 128
    },
    "version": {
      "type": "string",
      "minLength": 1
    },
    "entry": {
      "type": "string",
      "minLength": 1
    },
    "ports": {
      "type": "object",
      "properties": {
        "inputs": {"$ref": "#/definitions/portList"},
        "outputs": {"$ref": "#/definitions/portList"}
      }
    },
    "capabilities": {
      "type": "array",
      "items": {
        "type": "string",
        "pattern": "^[a-z][a-z0-9]*\\.[a-z][a-z0-9_]*$"
      }
    },
    "protocol_version": {
      "type": "integer",
      "minimum": 1
    },
    "description": {"type": "string"},
    "author": {"type": "string"}
  },
  "definitions": {
    "portList": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {
            "type": "string",
            "pattern": "^[a-zA-Z0-9_-]+$"
          },
          "name": {"type": "string"},
          "type": {
            "type": "string",
            "enum": ["string", "number", "boolean", "object", "array", "void", "event", "any"]
          },
          "capability": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    }
  }
}`
