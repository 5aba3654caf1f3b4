package domain

import "testing"

func TestDocumentCanAccess(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		user string
		want bool
	}{
		{"owner", Document{OwnerID: "a", Visibility: VisibilityPrivate}, "a", true},
		{"public", Document{OwnerID: "a", Visibility: VisibilityPublic}, "b", true},
		{"listed collaborator", Document{OwnerID: "a", Visibility: VisibilityShared, Collaborators: []string{"c", "b"}}, "b", true},
		{"private stranger", Document{OwnerID: "a", Visibility: VisibilityPrivate}, "b", false},
		{"shared stranger", Document{OwnerID: "a", Visibility: VisibilityShared, Collaborators: []string{"c"}}, "b", false},
		{"empty user", Document{OwnerID: "", Visibility: VisibilityPrivate}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.doc.CanAccess(tt.user); got != tt.want {
				t.Errorf("CanAccess(%q) = %v, want %v", tt.user, got, tt.want)
			}
		})
	}
}
