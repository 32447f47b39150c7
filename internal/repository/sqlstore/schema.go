package sqlstore

// schema is written for SQLite and rewritten for PostgreSQL in Migrate
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	handle TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'OFFLINE',
	kind TEXT NOT NULL DEFAULT 'human',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_seen_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_rooms (
	id TEXT PRIMARY KEY,
	user1_id TEXT NOT NULL REFERENCES users(id),
	user2_id TEXT NOT NULL REFERENCES users(id),
	last_message TEXT NOT NULL DEFAULT '',
	last_message_at TIMESTAMP,
	user1_unread INTEGER NOT NULL DEFAULT 0 CHECK (user1_unread >= 0),
	user2_unread INTEGER NOT NULL DEFAULT 0 CHECK (user2_unread >= 0),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS chat_rooms_active_pair_key ON chat_rooms (user1_id, user2_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS chat_rooms_user2_idx ON chat_rooms (user2_id);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	room_id TEXT NOT NULL REFERENCES chat_rooms(id),
	sender_id TEXT NOT NULL REFERENCES users(id),
	message_type TEXT NOT NULL,
	content TEXT NOT NULL,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	read_at TIMESTAMP,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at, seq);
CREATE INDEX IF NOT EXISTS messages_room_unread_idx ON messages (room_id, sender_id, is_read);
`
