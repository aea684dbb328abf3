package user

import "github.com/ovaphlow/pitchfork/service-user-admin/internal/user/entity"

// SeedUsers is the sample data loaded by cmd/seed.
var SeedUsers = []entity.Input{
	{Name: "Juan Pérez", Email: "juan.perez@example.com", Status: entity.StatusActive},
	{Name: "María García", Email: "maria.garcia@example.com", Status: entity.StatusActive},
	{Name: "Carlos Rodríguez", Email: "carlos.rodriguez@example.com", Status: entity.StatusActive},
	{Name: "Ana Martínez", Email: "ana.martinez@example.com", Status: entity.StatusInactive},
	{Name: "Luis Fernández", Email: "luis.fernandez@example.com", Status: entity.StatusActive},
	{Name: "Laura Sánchez", Email: "laura.sanchez@example.com", Status: entity.StatusActive},
	{Name: "Pedro López", Email: "pedro.lopez@example.com", Status: entity.StatusInactive},
	{Name: "Sofía González", Email: "sofia.gonzalez@example.com", Status: entity.StatusActive},
	{Name: "Diego Hernández", Email: "diego.hernandez@example.com", Status: entity.StatusActive},
	{Name: "Elena Torres", Email: "elena.torres@example.com", Status: entity.StatusInactive},
}
