package store

const createSchema = `
CREATE TABLE IF NOT EXISTS print_jobs (
	job_id TEXT PRIMARY KEY,
	printer_name TEXT NOT NULL,
	document_name TEXT NOT NULL,
	document BLOB NOT NULL,
	copies INTEGER NOT NULL DEFAULT 1,
	options TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_print_jobs_status_created ON print_jobs(status, created_at);
`

const jobColumns = `job_id, printer_name, document_name, document, copies, options,
	status, error_message, retry_count, created_at, updated_at, completed_at`

const insertJob = `
	INSERT INTO print_jobs (job_id, printer_name, document_name, document, copies, options,
		status, error_message, retry_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, '', 0, ?, ?)`

const getJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE job_id = ?`

const listJobs = `SELECT ` + jobColumns + ` FROM print_jobs ORDER BY created_at DESC LIMIT ?`

const listJobsByStatus = `SELECT ` + jobColumns + ` FROM print_jobs
	WHERE status = ? ORDER BY created_at DESC LIMIT ?`

const nextPendingJobs = `SELECT ` + jobColumns + ` FROM print_jobs
	WHERE status = ? ORDER BY created_at ASC LIMIT ?`

const updateJobStatus = `
	UPDATE print_jobs SET status = ?, error_message = ?, updated_at = ? WHERE job_id = ?`

const updateJobCompleted = `
	UPDATE print_jobs SET status = ?, error_message = ?, updated_at = ?,
		completed_at = COALESCE(completed_at, ?)
	WHERE job_id = ?`

const markJobProcessing = `
	UPDATE print_jobs SET status = ?, updated_at = ? WHERE job_id = ? AND status = ?`

const incrementJobRetry = `
	UPDATE print_jobs SET retry_count = retry_count + 1, updated_at = ? WHERE job_id = ?`

const cancelJob = `
	UPDATE print_jobs SET status = ?, updated_at = ?
	WHERE job_id = ? AND status IN (?, ?)`

const countJobsByStatus = `SELECT status, COUNT(*) FROM print_jobs GROUP BY status`

const jobExists = `SELECT 1 FROM print_jobs WHERE job_id = ?`
