package validation

import (
	"testing"
)

func TestValidateVolumeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Valid names
		{"valid simple name", "myvolume", false},
		{"valid with numbers", "volume123", false},
		{"valid with underscore", "my_volume", false},
		{"valid with dot", "my.volume", false},
		{"valid with hyphen", "my-volume", false},
		{"valid mixed", "my-volume_123.test", false},
		{"valid minimum length", "ab", false},
		{"valid starts with number", "1volume", false},

		// Invalid names - too short
		{"too short - 1 char", "a", true},
		{"too short - empty", "", true},

		// Invalid names - too long
		{"too long - 66 chars", "abcdefghijklmnopqrstuvwxyz1234567890abcdefghijklmnopqrstuvwxyz1234", true},

		// Invalid names - bad characters
		{"starts with underscore", "_volume", true},
		{"starts with hyphen", "-volume", true},
		{"starts with dot", ".volume", true},
		{"contains space", "my volume", true},
		{"contains slash", "my/volume", true},
		{"contains colon", "my:volume", true},
		{"contains at sign", "my@volume", true},
		{"contains special chars", "my$volume", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVolumeName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVolumeName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDatasetName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		// Valid names
		{"single component", "tank", "tank", false},
		{"two components", "pool/dataset1", "pool/dataset1", false},
		{"underscore", "pool/dataset_2", "pool/dataset_2", false},
		{"hyphen", "pool.dataset/dataset-3", "pool.dataset/dataset-3", false},
		{"colon", "pool.dataset/dataset:3", "pool.dataset/dataset:3", false},
		{"deep nesting", "pool:1/dataset.with.multiple.levels", "pool:1/dataset.with.multiple.levels", false},
		{"leading whitespace trimmed", " pool:1/data", "pool:1/data", false},
		{"surrounding whitespace trimmed", " pool:1/data  ", "pool:1/data", false},

		// Invalid names
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"leading underscore", "_R", "", true},
		{"leading hyphen", "-R", "", true},
		{"leading colon", ":R", "", true},
		{"leading dot", ".R", "", true},
		{"leading symbol after trim", " _R", "", true},
		{"component leading underscore", "pool/_R", "", true},
		{"component leading hyphen", "pool/-R", "", true},
		{"component leading colon", "pool/:R", "", true},
		{"component leading dot", "pool/.R", "", true},
		{"interior space", "pool/dataset name", "", true},
		{"component leading space", "pool/ dataset", "", true},
		{"exclamation mark", "pool/dataset!", "", true},
		{"at sign", "pool/dataset@name", "", true},
		{"dollar sign", "pool/data$et", "", true},
		{"semicolon", "pool/data;rm", "", true},
		{"doubled separator", "pool//dataset", "", true},
		{"trailing separator", "pool/dataset/", "", true},
		{"leading separator", "/pool/dataset", "", true},
		{"embedded newline", "pool/data\nset", "", true},
		{"embedded tab", "pool/data\tset", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateDatasetName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDatasetName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ValidateDatasetName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
