// Package identity keeps the user registry of a collaboration server:
// canonical users, their emails and their server roles.
//
// Identity resolution:
//   - Service.FindOrCreateUser maps an external identity to exactly one
//     canonical user. The user owning the verified primary email wins,
//     otherwise a new verified user is created. The first user of a
//     server becomes its administrator.
//   - Emails are normalized before every lookup so the same address can
//     never belong to two users.
//
// Roles and deletion:
//   - ServerRole orders admin above user, guest and archived users.
//     ChangeUserRole and DeleteUser refuse to remove the last administrator.
//   - DeleteUser removes the projects solely owned by the user, their
//     invites, emails and grants before the user row itself.
//
// Events:
//   - Lifecycle changes are published on an EventBus once they are stored.
//     AsyncEventBus retries failing handlers with backoff.
//
// Authentication strategies and the HTTP surface live in the strategy and
// httpapi packages.
package identity
