package model

// Ward — отделение больницы, в рамках которого работают клинические роли.
// Пациенты, назначения и остатки препаратов всегда привязаны к отделению.
type Ward struct {
	// ID — идентификатор отделения в backend.
	ID string `json:"id"`
	// Name — отображаемое название отделения.
	Name string `json:"name"`
	// HospitalID — идентификатор больницы, которой принадлежит отделение.
	HospitalID string `json:"hospital_id"`
	// HospitalName — название больницы (для UI, может быть пустым).
	HospitalName string `json:"hospital_name,omitempty"`
}
