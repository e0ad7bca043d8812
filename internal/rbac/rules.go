package rbac

// RolePermissions is the default policy. Roles match the profile role stored
// in users/{uid}.
var RolePermissions = map[string][]string{
	"aluno": {
		"prova:view",
		"attempt:open",
		"attempt:answer",
		"attempt:finish",
		"attempt:view-own",
	},
	"admin": {
		"*", // everything
	},
}
