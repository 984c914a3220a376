package intake

import "leadflow/internal/common/validation"

// submissionSchema only pins JSON types. Field rules live in Validate so each
// failure can be reported on the input the operator actually sees.
var submissionSchema = validation.MustCompile(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "applicantName":  {"type": "string"},
    "phone1":         {"type": "string"},
    "phone2":         {"type": "string"},
    "phone3":         {"type": "string"},
    "email":          {"type": ["string", "null"]},
    "dueDate":        {"type": ["string", "null"]},
    "pregnancyWeeks": {"type": ["integer", "string", "null"]},
    "budget":         {"type": ["string", "null"]},
    "additionalInfo": {"type": ["string", "null"]},
    "consent":        {"type": "boolean"}
  }
}`)
