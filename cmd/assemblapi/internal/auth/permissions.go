package auth

// Permission names. These are the capability tags stored in the permissions
// table and used as the action of every Casbin policy.
const (
	// PermRead allows reading a discussion's content
	PermRead = "read"

	// PermAddPost allows posting messages
	PermAddPost = "add_post"

	// PermEditPost allows editing anyone's messages
	PermEditPost = "edit_post"

	// PermAddExtract allows harvesting extracts from messages
	PermAddExtract = "add_extract"

	// PermEditExtract allows editing anyone's extracts
	PermEditExtract = "edit_extract"

	// PermEditMyExtract allows editing extracts one owns
	PermEditMyExtract = "edit_my_extract"

	// PermAddIdea allows adding ideas to the table of ideas
	PermAddIdea = "add_idea"

	// PermEditIdea allows editing ideas
	PermEditIdea = "edit_idea"

	// PermEditSynthesis allows editing syntheses
	PermEditSynthesis = "edit_synthesis"

	// PermSendSynthesis allows publishing syntheses
	PermSendSynthesis = "send_synthesis"

	// PermAdminDiscussion allows administering the discussion, including role grants
	PermAdminDiscussion = "admin_discussion"

	// PermSysadmin is the superuser capability
	PermSysadmin = "sysadmin"

	// PermSelfRegister lets an authenticated user join as participant
	PermSelfRegister = "self_register"

	// PermSelfRegisterRequest lets an authenticated user request to join
	PermSelfRegisterRequest = "self_register_req"
)

// AllPermissions lists every permission seeded at install time.
var AllPermissions = []string{
	PermRead,
	PermAddPost,
	PermEditPost,
	PermAddExtract,
	PermEditExtract,
	PermEditMyExtract,
	PermAddIdea,
	PermEditIdea,
	PermEditSynthesis,
	PermSendSynthesis,
	PermAdminDiscussion,
	PermSysadmin,
	PermSelfRegister,
	PermSelfRegisterRequest,
}

// DefaultPermissionMatrix maps each permission to the roles a new discussion
// grants it to.
var DefaultPermissionMatrix = map[string][]string{
	PermRead:            {RoleEveryone},
	PermSelfRegister:    {RoleAuthenticated},
	PermAddPost:         {RoleParticipant, RoleCatcher, RoleModerator, RoleAdministrator},
	PermEditPost:        {RoleModerator, RoleAdministrator},
	PermAddExtract:      {RoleCatcher, RoleModerator, RoleAdministrator},
	PermEditExtract:     {RoleModerator, RoleAdministrator},
	PermEditMyExtract:   {RoleCatcher, RoleModerator, RoleAdministrator},
	PermAddIdea:         {RoleCatcher, RoleModerator, RoleAdministrator},
	PermEditIdea:        {RoleCatcher, RoleModerator, RoleAdministrator},
	PermEditSynthesis:   {RoleModerator, RoleAdministrator},
	PermSendSynthesis:   {RoleModerator, RoleAdministrator},
	PermAdminDiscussion: {RoleAdministrator},
	PermSysadmin:        {RoleAdministrator},
}

// DefaultPolicies expands DefaultPermissionMatrix into Casbin policy rules
// (role, discussion, permission) for one discussion.
func DefaultPolicies(discussionID string) [][]string {
	var rules [][]string
	for _, perm := range AllPermissions {
		for _, role := range DefaultPermissionMatrix[perm] {
			rules = append(rules, []string{role, discussionID, perm})
		}
	}
	return rules
}
