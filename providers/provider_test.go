package providers

import "testing"

func TestResultFromBytes(t *testing.T) {
	r, err := ResultFromBytes(KindStructured, []byte(`[{"frente":"a"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind() != KindStructured {
		t.Errorf("kind = %s", r.Kind())
	}

	if _, err := ResultFromBytes(KindStructured, []byte(`[{"frente":`)); err == nil {
		t.Error("expected error for invalid stored JSON")
	}
	if _, err := ResultFromBytes("audio", nil); err == nil {
		t.Error("expected error for unknown kind")
	}

	txt, _ := ResultFromBytes(KindText, []byte("Art. 1º"))
	if txt.(TextResult).Text != "Art. 1º" {
		t.Errorf("text = %q", txt.(TextResult).Text)
	}
}

func TestRequest_Validate(t *testing.T) {
	temp := 3.0
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"prompt", Request{Prompt: "Explique furto"}, false},
		{"body", Request{Body: []byte(`{"lat":1}`)}, false},
		{"input", Request{Input: []byte{0x89, 0x50}}, false},
		{"empty", Request{}, true},
		{"bad temperature", Request{Prompt: "x", Config: GenerationConfig{Temperature: &temp}}, true},
		{"bad body", Request{Body: []byte(`{nope`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
