package roles

import "testing"

// TestFromStringsDropsUnknown проверяет, что неизвестные claims отбрасываются.
func TestFromStringsDropsUnknown(t *testing.T) {
	s := FromStrings([]string{"doctor", "offline_access", "uma_authorization", "nurse"})

	if len(s) != 2 {
		t.Fatalf("Ожидалось 2 роли, получено %d: %v", len(s), s.Strings())
	}
	if !s.Has(RoleDoctor) || !s.Has(RoleNurse) {
		t.Errorf("Ожидались doctor и nurse, получено %v", s.Strings())
	}
}

// TestOperationalPrecedence проверяет фиксированный приоритет
// doctor > pharmacist > nurse при нескольких операционных ролях.
func TestOperationalPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  Role
		ok    bool
	}{
		{"nurse+doctor — побеждает doctor", []string{"nurse", "doctor"}, RoleDoctor, true},
		{"nurse+pharmacist — побеждает pharmacist", []string{"nurse", "pharmacist"}, RolePharmacist, true},
		{"все три — побеждает doctor", []string{"pharmacist", "nurse", "doctor"}, RoleDoctor, true},
		{"только nurse", []string{"nurse"}, RoleNurse, true},
		{"только admin — операционной роли нет", []string{"admin"}, "", false},
		{"пустой набор", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromStrings(tt.roles).Operational()
			if ok != tt.ok || got != tt.want {
				t.Errorf("Operational() = (%q, %v), ожидалось (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

// TestIsAdmin проверяет, что admin распознаётся независимо от операционных ролей.
func TestIsAdmin(t *testing.T) {
	if !FromStrings([]string{"admin", "doctor"}).IsAdmin() {
		t.Error("Набор с admin должен быть административным")
	}
	if FromStrings([]string{"doctor"}).IsAdmin() {
		t.Error("Набор без admin не должен быть административным")
	}
}

// TestStringsOrder проверяет стабильный порядок сериализации ролей.
func TestStringsOrder(t *testing.T) {
	s := FromStrings([]string{"admin", "nurse", "doctor"})
	got := s.Strings()
	want := []string{"doctor", "nurse", "admin"}

	if len(got) != len(want) {
		t.Fatalf("Strings() = %v, ожидалось %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Strings()[%d] = %q, ожидалось %q", i, got[i], want[i])
		}
	}
}
