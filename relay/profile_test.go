package relay

import "testing"

func TestNewProfileDefaults(t *testing.T) {
	p := newProfile()
	want := Profile{
		UserID:     "N/A",
		UserName:   "N/A",
		UserDomain: "N/A",
		SceneID:    "-1",
		ScenePos:   "0",
		Speed:      "0",
	}
	if p != want {
		t.Fatalf("newProfile() = %+v, want %+v", p, want)
	}
}

func TestDecodeActionDataTolerantOfExtraKeys(t *testing.T) {
	var update StatusUpdate
	err := decodeActionData(`{"scene_id":"7","scene_pos":"42","speed":"3","extra":"ignored"}`, &update)
	if err != nil {
		t.Fatalf("decodeActionData returned error: %v", err)
	}
	want := StatusUpdate{SceneID: "7", ScenePos: "42", Speed: "3"}
	if update != want {
		t.Fatalf("decoded %+v, want %+v", update, want)
	}
}

func TestDecodeActionDataRejectsMalformedJSON(t *testing.T) {
	var update StatusUpdate
	if err := decodeActionData(`{not json`, &update); err == nil {
		t.Fatal("expected an error decoding malformed JSON")
	}
}
