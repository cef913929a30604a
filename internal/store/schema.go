package store

// SchemaSQL contains the database schema initialization SQL. The job table is
// the single source of truth external consumers poll; the catalog tables hold
// the normalized output rows.
const SchemaSQL = `
    -- ==========================================================================
    -- INGESTION JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS job_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS supplier_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS phase ON job TYPE string
        ASSERT $value IN ["pending", "downloading", "analyzing", "matching", "complete", "failed"];
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string
        ASSERT $value IN ["pending", "processing", "completed", "failed"];
    DEFINE FIELD IF NOT EXISTS retry_count ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS max_retries ON job TYPE int DEFAULT 3;
    DEFINE INDEX IF NOT EXISTS job_supplier ON job FIELDS supplier_id;
    DEFINE INDEX IF NOT EXISTS job_phase ON job FIELDS phase;

    -- ==========================================================================
    -- CATALOG OUTPUT TABLE (rows keyed by supplier_id + sku)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS catalog_item SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS supplier_id ON catalog_item TYPE string;
    DEFINE FIELD IF NOT EXISTS sku ON catalog_item TYPE string;
    DEFINE INDEX IF NOT EXISTS catalog_supplier_sku ON catalog_item FIELDS supplier_id, sku UNIQUE;

    -- ==========================================================================
    -- REVIEW QUEUE TABLE (rows needing manual linking)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS review_item SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS supplier_id ON review_item TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON review_item TYPE string;
    DEFINE INDEX IF NOT EXISTS review_job ON review_item FIELDS job_id;
`
