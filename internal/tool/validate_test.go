package tool

import "testing"

func TestValidateArguments(t *testing.T) {
	schema := []byte(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)

	tests := []struct {
		name    string
		args    []byte
		wantErr bool
	}{
		{"valid", []byte(`{"path":"/tmp"}`), false},
		{"missing required", []byte(`{}`), true},
		{"wrong type", []byte(`{"path":1}`), true},
		{"not json", []byte(`not json`), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateArguments(schema, tt.args)
			if (len(errs) > 0) != tt.wantErr {
				t.Fatalf("ValidateArguments(%s) errs=%v, wantErr=%v", tt.args, errs, tt.wantErr)
			}
		})
	}
}

func TestValidateArguments_NoSchema(t *testing.T) {
	if errs := ValidateArguments(nil, []byte(`{"anything":true}`)); errs != nil {
		t.Fatalf("expected no errors with no schema, got %v", errs)
	}
}
