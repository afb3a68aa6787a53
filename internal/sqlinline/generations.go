package sqlinline

const QCreateGenerations = `--sql 9c41e2a7-0b6d-4f3e-8a52-7d1f6c3b2e94
create table if not exists video_generations (
    id uuid primary key,
    batch_id uuid,
    job_index int not null default 0,
    prompt text not null,
    model text not null,
    success boolean not null,
    video_path text,
    video_uri text,
    operation_name text,
    file_size_mb double precision not null default 0,
    generation_time double precision not null default 0,
    submit_attempts int not null default 0,
    download_attempts int not null default 0,
    error text,
    error_details jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now()
);
create index if not exists video_generations_created_at_idx on video_generations (created_at desc);
`

const QInsertGeneration = `--sql 4e7b2c90-1d3a-4b8f-9e65-0c2d8a7f1b36
insert into video_generations (
  id,
  batch_id,
  job_index,
  prompt,
  model,
  success,
  video_path,
  video_uri,
  operation_name,
  file_size_mb,
  generation_time,
  submit_attempts,
  download_attempts,
  error,
  error_details,
  created_at
) values (
  $1::uuid,
  $2::uuid,
  $3::int,
  $4::text,
  $5::text,
  $6::boolean,
  nullif($7::text, ''),
  nullif($8::text, ''),
  nullif($9::text, ''),
  $10::float8,
  $11::float8,
  $12::int,
  $13::int,
  nullif($14::text, ''),
  coalesce($15::jsonb, '{}'::jsonb),
  now()
);
`

const QListRecentGenerations = `--sql b2f8d6c1-7a4e-4c09-83d5-6e1a9f2c7b48
select
  id::text,
  coalesce(batch_id::text, ''),
  job_index,
  prompt,
  model,
  success,
  coalesce(video_path, ''),
  coalesce(video_uri, ''),
  coalesce(operation_name, ''),
  file_size_mb,
  generation_time,
  submit_attempts,
  download_attempts,
  coalesce(error, ''),
  created_at
from video_generations
order by created_at desc
limit $1::int;
`
