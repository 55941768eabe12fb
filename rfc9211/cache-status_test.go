package rfc9211

import "testing"

func TestCacheStatusString(t *testing.T) {
	cs := CacheStatus{}
	cs.Hit()
	if s := cs.String(); s != "Precache; hit" {
		t.Fatalf("Hit is %s", s)
	}
	cs.Forward(FwdReasonUriMiss)
	if s := cs.String(); s != "Precache; fwd=uri-miss" {
		t.Fatalf("Forward is %s", s)
	}
	cs.Stored = true
	cs.Detail = "install"
	if s := cs.String(); s != `Precache; fwd=uri-miss; stored; detail="install"` {
		t.Fatalf("Stored is %s", s)
	}
}
