package httpapi

import "horse.fit/glint/internal/payload"

const messageDefinition = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["id", "text", "target_lang"],
	"properties": {
		"id": {"type": "string", "minLength": 1, "maxLength": 128},
		"text": {"type": "string", "maxLength": 100000},
		"source_lang": {"type": "string", "maxLength": 35},
		"target_lang": {"type": "string", "minLength": 1, "maxLength": 35},
		"engine": {"type": "string", "maxLength": 128}
	}
}`

var (
	messageValidator = payload.NewValidator("glint-message.schema.json", `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"$ref": "#/$defs/message",
	"$defs": {"message": `+messageDefinition+`}
}`)

	batchValidator = payload.NewValidator("glint-batch.schema.json", `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"required": ["items"],
	"properties": {
		"items": {
			"type": "array",
			"minItems": 1,
			"maxItems": 200,
			"items": {"$ref": "#/$defs/message"}
		}
	},
	"$defs": {"message": `+messageDefinition+`}
}`)

	concurrencyValidator = payload.NewValidator("glint-concurrency.schema.json", `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"required": ["limit"],
	"properties": {
		"limit": {"type": "integer", "minimum": 1, "maximum": 64}
	}
}`)
)
