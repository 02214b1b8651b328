package rbac

// RolePermissions is the default policy. "user" takes exams; "admin" builds
// them and reads every result.
var RolePermissions = map[string][]string{
	"user": {
		"exam:take",
		"attempt:start",
		"attempt:answer",
		"attempt:submit",
		"attempt:view-own",
		"result:view-own",
		"user:change_password",
	},
	"admin": {
		"*",
	},
}
