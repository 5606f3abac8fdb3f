package store

// The full-text shadow index over message.content is an external-content
// FTS5 virtual table tokenized as character trigrams, so expressions match
// as substrings anywhere inside words and across languages without
// whitespace word boundaries. The triggers keep the index synchronously
// consistent with every ledger mutation, inside the mutation's own
// transaction.
var schemaStatements = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS messageindex
	 USING fts5 (content, content='message', tokenize='trigram')`,

	`CREATE TRIGGER IF NOT EXISTS message_ai AFTER INSERT ON message BEGIN
	   INSERT INTO messageindex(rowid, content) VALUES (new.rowid, new.content);
	 END`,

	`CREATE TRIGGER IF NOT EXISTS message_ad AFTER DELETE ON message BEGIN
	   INSERT INTO messageindex(messageindex, rowid, content) VALUES ('delete', old.rowid, old.content);
	 END`,

	`CREATE TRIGGER IF NOT EXISTS message_au AFTER UPDATE ON message BEGIN
	   INSERT INTO messageindex(messageindex, rowid, content) VALUES ('delete', old.rowid, old.content);
	   INSERT INTO messageindex(rowid, content) VALUES (new.rowid, new.content);
	 END`,
}
