package model

// SessionState — агрегат состояния сессии, владелец — session.Store.
// Инварианты:
//   - Authenticated == true тогда и только тогда, когда Profile != nil;
//   - ActiveWard != nil только при Profile != nil
//     (очистка сессии сбрасывает отделение атомарно).
type SessionState struct {
	// Profile — профиль пользователя (nil до успешного login).
	Profile *UserProfile
	// ActiveWard — выбранное отделение (nil до выбора).
	ActiveWard *Ward
	// Authenticated — флаг аутентификации.
	Authenticated bool
	// Loading — выполняется ли сейчас login или загрузка профиля.
	Loading bool
	// LastError — последняя ошибка для UI (пустая строка — ошибки нет).
	LastError string
}
