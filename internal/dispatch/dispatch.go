// Пакет dispatch — диспетчеризация layout по состоянию сессии.
// Конечный автомат: Unauthenticated → AwaitingProfile → AwaitingWard →
// {Doctor|Pharmacist|Nurse|Admin}Layout; logout возвращает в
// Unauthenticated из любого состояния. Admin минует выбор отделения:
// администрирование больниц и пользователей не ward-scoped.
// Профиль без распознанной роли — терминальное состояние NoRole,
// единственный выход из которого — logout.
package dispatch

import (
	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/roles"
)

// State — состояние диспетчера layout.
type State string

const (
	// StateUnauthenticated — сессии нет, доступен только вход.
	StateUnauthenticated State = "unauthenticated"
	// StateAwaitingProfile — credential есть, профиль ещё загружается.
	StateAwaitingProfile State = "awaiting_profile"
	// StateAwaitingWard — профиль есть, отделение не выбрано.
	StateAwaitingWard State = "awaiting_ward"
	// StateDoctorLayout — рабочее место врача.
	StateDoctorLayout State = "doctor_layout"
	// StatePharmacistLayout — рабочее место фармацевта.
	StatePharmacistLayout State = "pharmacist_layout"
	// StateNurseLayout — рабочее место медсестры.
	StateNurseLayout State = "nurse_layout"
	// StateAdminLayout — консоль администратора (без отделения).
	StateAdminLayout State = "admin_layout"
	// StateNoRole — терминальное состояние "нет распознанной роли".
	// Не ошибка и не исключение: статичное сообщение, выход — только logout.
	StateNoRole State = "no_role"
)

// layoutByRole — соответствие операционной роли и layout.
var layoutByRole = map[roles.Role]State{
	roles.RoleDoctor:     StateDoctorLayout,
	roles.RolePharmacist: StatePharmacistLayout,
	roles.RoleNurse:      StateNurseLayout,
}

// routeTreeByState — корень дерева маршрутов, монтируемого для состояния.
var routeTreeByState = map[State]string{
	StateUnauthenticated:  "/login",
	StateAwaitingProfile:  "/login",
	StateAwaitingWard:     "/wards",
	StateDoctorLayout:     "/doctor",
	StatePharmacistLayout: "/pharmacist",
	StateNurseLayout:      "/nurse",
	StateAdminLayout:      "/admin",
	StateNoRole:           "/no-role",
}

// Evaluate вычисляет состояние диспетчера по снимку сессии.
// Переходы к role-layout возможны только после того, как профиль
// полностью установлен (SetSession завершён) — гонка fetch профиля
// против диспетчеризации исключена тем, что Evaluate видит только
// зафиксированный снимок.
func Evaluate(st model.SessionState) State {
	if !st.Authenticated || st.Profile == nil {
		if st.Loading {
			return StateAwaitingProfile
		}
		return StateUnauthenticated
	}

	// Admin минует выбор отделения
	if st.Profile.Roles.IsAdmin() {
		return StateAdminLayout
	}

	op, ok := st.Profile.Roles.Operational()
	if !ok {
		return StateNoRole
	}

	if st.ActiveWard == nil {
		return StateAwaitingWard
	}
	return layoutByRole[op]
}

// RouteTree возвращает корень дерева маршрутов состояния.
func RouteTree(s State) string {
	return routeTreeByState[s]
}

// Terminal сообщает, является ли состояние терминальным
// (нет исходящих переходов, кроме logout).
func Terminal(s State) bool {
	return s == StateNoRole
}
